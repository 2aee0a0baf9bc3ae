package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatfanout/internal/types"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	opts   options
}

func NewRedisStore(url string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	s := &RedisStore{
		client: redis.NewClient(redisOpts),
		opts:   newOptions(opts),
	}

	if err := s.Ping(context.Background()); err != nil {
		s.client.Close()
		return nil, err
	}

	return s, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetStatus(ctx context.Context, userId string, status types.Status, at time.Time) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	err := s.client.HSet(ctx, userKey(userId),
		"status", string(status),
		"last_seen", at.Unix(),
	).Err()
	if err != nil {
		return unavailable("set status", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, userId string, at time.Time) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	if err := s.client.HSet(ctx, userKey(userId), "last_seen", at.Unix()).Err(); err != nil {
		return unavailable("touch", err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, userId string) (types.Presence, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, userKey(userId)).Result()
	if err != nil {
		return types.Presence{}, unavailable("get status", err)
	}

	p := types.Presence{
		UserId: userId,
		Status: types.Status(fields["status"]),
	}
	if ts, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		p.LastSeen = time.Unix(ts, 0).UTC()
	}

	return s.opts.resolve(p, time.Now()), nil
}

func (s *RedisStore) ChannelMembers(ctx context.Context, channelId string) ([]string, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, channelMembersKey(channelId)).Result()
	if err != nil {
		return nil, unavailable("channel members", err)
	}
	return members, nil
}

func (s *RedisStore) AddChannelMember(ctx context.Context, channelId, userId string) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	if err := s.client.SAdd(ctx, channelMembersKey(channelId), userId).Err(); err != nil {
		return unavailable("add channel member", err)
	}
	return nil
}

func (s *RedisStore) RemoveChannelMember(ctx context.Context, channelId, userId string) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	if err := s.client.SRem(ctx, channelMembersKey(channelId), userId).Err(); err != nil {
		return unavailable("remove channel member", err)
	}
	return nil
}

// RecordAndCount runs ZADD, ZREMRANGEBYSCORE, ZCARD and EXPIRE in a single
// MULTI/EXEC so concurrent sessions of one user never interleave.
func (s *RedisStore) RecordAndCount(ctx context.Context, userId string, now time.Time, window time.Duration) (int64, error) {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	key := rateLimitKey(userId)
	score := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()
	// members must be unique or same-millisecond events would collapse
	member := strconv.FormatInt(score, 10) + ":" + uuid.NewString()

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, unavailable("record rate window", err)
	}

	return card.Val(), nil
}
