package database

import (
	"time"

	"github.com/npezzotti/go-chatfanout/internal/types"
)

type User struct {
	Id        string
	Username  string
	CreatedAt time.Time
}

func (u User) ToUser() types.User {
	return types.User{
		Id:       u.Id,
		Username: u.Username,
	}
}
