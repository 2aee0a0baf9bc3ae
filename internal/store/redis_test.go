package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/npezzotti/go-chatfanout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, opts ...Option) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), opts...)
	require.NoError(t, err, "expected no error connecting to miniredis")
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisStore("not-a-url")
		assert.Error(t, err, "expected error for invalid redis url")
	})

	t.Run("unreachable server", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		_, err := NewRedisStore("redis://" + addr)
		assert.ErrorIs(t, err, ErrUnavailable, "expected unavailable error when redis is down")
	})
}

func TestRedisStore_SetStatus_GetStatus(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)

	p, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, p.Status, "expected unknown user to be offline")
	assert.False(t, p.IsOnline)

	require.NoError(t, s.SetStatus(ctx, "alice", types.StatusOnline, at))
	assert.Equal(t, "online", mr.HGet("user:alice", "status"), "expected status field in user hash")

	p, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserId)
	assert.Equal(t, types.StatusOnline, p.Status)
	assert.Equal(t, at, p.LastSeen)
	assert.True(t, p.IsOnline)

	require.NoError(t, s.SetStatus(ctx, "alice", types.StatusAway, at))
	p, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAway, p.Status)
	assert.True(t, p.IsOnline, "expected away users to count as online")
}

func TestRedisStore_PresenceTTL(t *testing.T) {
	s, _ := newTestRedisStore(t, WithPresenceTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, "alice", types.StatusOnline, time.Now().Add(-2*time.Minute)))
	p, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOffline, p.Status, "expected stale record to read as offline")

	require.NoError(t, s.Touch(ctx, "alice", time.Now()))
	p, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOnline, p.Status, "expected touched record to read as online")
}

func TestRedisStore_ChannelMembers(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	members, err := s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.Empty(t, members, "expected no members for unknown channel")

	require.NoError(t, s.AddChannelMember(ctx, "general", "alice"))
	require.NoError(t, s.AddChannelMember(ctx, "general", "bob"))
	require.NoError(t, s.AddChannelMember(ctx, "general", "bob"))

	members, err = s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members, "expected member set to be unique")

	require.NoError(t, s.RemoveChannelMember(ctx, "general", "alice"))
	members, err = s.ChannelMembers(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)
}

func TestRedisStore_RecordAndCount(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	window := time.Minute
	start := time.Now()

	for i := 1; i <= 5; i++ {
		count, err := s.RecordAndCount(ctx, "alice", start, window)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count, "expected same-instant events to be counted separately")
	}

	count, err := s.RecordAndCount(ctx, "bob", start, window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expected windows to be per user")

	assert.True(t, mr.Exists("rate_limit:alice"), "expected rate window key")
	assert.Greater(t, mr.TTL("rate_limit:alice"), time.Duration(0), "expected rate window key to expire")

	count, err = s.RecordAndCount(ctx, "alice", start.Add(window), window)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expected entries older than the window to be dropped")
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()
	ctx := context.Background()

	_, err := s.RecordAndCount(ctx, "alice", time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.ChannelMembers(ctx, "general")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = s.SetStatus(ctx, "alice", types.StatusOnline, time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}
