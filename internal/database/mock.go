package database

import (
	"github.com/stretchr/testify/mock"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockUserRepository) GetAccountById(id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockUserRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
