package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatfanout/internal/types"
)

// ErrUnavailable marks failures talking to the backing key-value service.
// Callers decide whether to retry, fail open, or give up.
var ErrUnavailable = errors.New("store unavailable")

// PresenceStore records user presence and resolves channel membership.
type PresenceStore interface {
	SetStatus(ctx context.Context, userId string, status types.Status, at time.Time) error
	GetStatus(ctx context.Context, userId string) (types.Presence, error)
	Touch(ctx context.Context, userId string, at time.Time) error
	ChannelMembers(ctx context.Context, channelId string) ([]string, error)
	AddChannelMember(ctx context.Context, channelId, userId string) error
	RemoveChannelMember(ctx context.Context, channelId, userId string) error
	Ping(ctx context.Context) error
	Close() error
}

// RateWindow is a per-user sliding window of event timestamps. RecordAndCount
// adds now to the window, drops entries at or before now-window, and returns
// the number of entries left, as one atomic operation.
type RateWindow interface {
	RecordAndCount(ctx context.Context, userId string, now time.Time, window time.Duration) (int64, error)
}

type Store interface {
	PresenceStore
	RateWindow
}

type options struct {
	presenceTTL time.Duration
	timeout     time.Duration
}

type Option func(*options)

// WithPresenceTTL makes GetStatus report a user offline once their last_seen
// is older than ttl. Zero keeps records online until an explicit update.
func WithPresenceTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.presenceTTL = ttl
	}
}

// WithTimeout bounds every call to the backing service.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// resolve fills in the derived presence fields, downgrading stale records.
func (o options) resolve(p types.Presence, now time.Time) types.Presence {
	if p.Status == "" {
		p.Status = types.StatusOffline
	}
	if o.presenceTTL > 0 && p.Status != types.StatusOffline && now.Sub(p.LastSeen) > o.presenceTTL {
		p.Status = types.StatusOffline
	}
	p.IsOnline = p.Status != types.StatusOffline
	return p
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
}

func userKey(userId string) string {
	return "user:" + userId
}

func channelMembersKey(channelId string) string {
	return "channel:" + channelId + ":members"
}

func rateLimitKey(userId string) string {
	return "rate_limit:" + userId
}
