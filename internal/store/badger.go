package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/go-chatfanout/internal/types"
)

const maxTxnConflictRetries = 8

// BadgerStore keeps presence and rate windows in an embedded badger
// database. It suits single-node deployments where running redis is not
// worth it; records still survive process restarts.
type BadgerStore struct {
	db   *badger.DB
	opts options
}

type presenceRecord struct {
	Status   types.Status `json:"status"`
	LastSeen int64        `json:"last_seen"`
}

// NewBadgerStore opens the database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string, opts ...Option) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &BadgerStore{db: db, opts: newOptions(opts)}, nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return unavailable("ping", badger.ErrDBClosed)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) SetStatus(ctx context.Context, userId string, status types.Status, at time.Time) error {
	data, err := json.Marshal(presenceRecord{Status: status, LastSeen: at.Unix()})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(userKey(userId)), data)
	})
	if err != nil {
		return unavailable("set status", err)
	}
	return nil
}

func (s *BadgerStore) Touch(ctx context.Context, userId string, at time.Time) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := getPresence(txn, userId)
		if err != nil {
			return err
		}
		rec.LastSeen = at.Unix()

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set([]byte(userKey(userId)), data)
	})
	if err != nil {
		return unavailable("touch", err)
	}
	return nil
}

func (s *BadgerStore) GetStatus(ctx context.Context, userId string) (types.Presence, error) {
	var rec presenceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getPresence(txn, userId)
		return err
	})
	if err != nil {
		return types.Presence{}, unavailable("get status", err)
	}

	p := types.Presence{UserId: userId, Status: rec.Status}
	if rec.LastSeen > 0 {
		p.LastSeen = time.Unix(rec.LastSeen, 0).UTC()
	}
	return s.opts.resolve(p, time.Now()), nil
}

func getPresence(txn *badger.Txn, userId string) (presenceRecord, error) {
	var rec presenceRecord

	item, err := txn.Get([]byte(userKey(userId)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, nil
	}
	if err != nil {
		return rec, err
	}

	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

// channel membership is one key per member under the channel's prefix
func memberKey(channelId, userId string) []byte {
	return []byte(channelMembersKey(channelId) + ":" + userId)
}

func (s *BadgerStore) ChannelMembers(ctx context.Context, channelId string) ([]string, error) {
	prefix := []byte(channelMembersKey(channelId) + ":")
	var members []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			members = append(members, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("channel members", err)
	}

	return members, nil
}

func (s *BadgerStore) AddChannelMember(ctx context.Context, channelId, userId string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(memberKey(channelId, userId), nil)
	})
	if err != nil {
		return unavailable("add channel member", err)
	}
	return nil
}

func (s *BadgerStore) RemoveChannelMember(ctx context.Context, channelId, userId string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(memberKey(channelId, userId))
	})
	if err != nil {
		return unavailable("remove channel member", err)
	}
	return nil
}

func (s *BadgerStore) RecordAndCount(ctx context.Context, userId string, now time.Time, window time.Duration) (int64, error) {
	key := []byte(rateLimitKey(userId))
	score := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()

	var count int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		var stamps []int64

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &stamps)
			}); err != nil {
				return err
			}
		}

		stamps = append(stamps, score)
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				kept = append(kept, ts)
			}
		}
		count = int64(len(kept))

		data, err := json.Marshal(kept)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(window))
	})
	if err != nil {
		return 0, unavailable("record rate window", err)
	}

	return count, nil
}

// update retries fn when badger reports a conflicting concurrent transaction.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	ctx, cancel := s.opts.withTimeout(ctx)
	defer cancel()

	var err error
	for range maxTxnConflictRetries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
