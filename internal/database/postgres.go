package database

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

type PgUserRepository struct {
	conn *sql.DB
}

func NewPgUserRepository(dsn string) (*PgUserRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PgUserRepository{conn: db}, nil
}

func (db *PgUserRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgUserRepository) GetAccountById(id string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id::text, username, created_at FROM accounts "+
			"WHERE id::text = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrAccountNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get account %q: %w", id, err)
	}

	return user, nil
}

func (db *PgUserRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
