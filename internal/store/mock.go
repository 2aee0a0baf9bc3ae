package store

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatfanout/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SetStatus(ctx context.Context, userId string, status types.Status, at time.Time) error {
	args := m.Called(ctx, userId, status, at)
	return args.Error(0)
}
func (m *MockStore) GetStatus(ctx context.Context, userId string) (types.Presence, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.Presence), args.Error(1)
}
func (m *MockStore) Touch(ctx context.Context, userId string, at time.Time) error {
	args := m.Called(ctx, userId, at)
	return args.Error(0)
}
func (m *MockStore) ChannelMembers(ctx context.Context, channelId string) ([]string, error) {
	args := m.Called(ctx, channelId)
	if members, ok := args.Get(0).([]string); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockStore) AddChannelMember(ctx context.Context, channelId, userId string) error {
	args := m.Called(ctx, channelId, userId)
	return args.Error(0)
}
func (m *MockStore) RemoveChannelMember(ctx context.Context, channelId, userId string) error {
	args := m.Called(ctx, channelId, userId)
	return args.Error(0)
}
func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockStore) RecordAndCount(ctx context.Context, userId string, now time.Time, window time.Duration) (int64, error) {
	args := m.Called(ctx, userId, now, window)
	return args.Get(0).(int64), args.Error(1)
}
