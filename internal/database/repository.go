package database

import "errors"

var ErrAccountNotFound = errors.New("account not found")

// UserRepository resolves the accounts that may open a chat connection.
// Account management itself lives outside this service.
type UserRepository interface {
	Ping() error
	GetAccountById(id string) (User, error)
	Close() error
}
