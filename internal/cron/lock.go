package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 5 * time.Minute

// Unlock gives back a lease taken by Locker.TryLock.
type Unlock func(ctx context.Context) error

// Locker hands out at most one cycle lease across all cron workers. A nil Unlock with a nil
// error means another worker holds the lease.
type Locker interface {
	TryLock(ctx context.Context) (Unlock, error)
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLocker leases key with SET NX under a fresh token per cycle. Unlock deletes the key
// only while it still carries that token.
type RedisLocker struct {
	store leaseStore
	key   string
	ttl   time.Duration
}

func NewRedisLocker(store leaseStore, key string, ttl time.Duration) (*RedisLocker, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis store required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context) (Unlock, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, nil
	}
	return func(ctx context.Context) error {
		if _, err := l.store.DelIfValue(ctx, l.key, token); err != nil {
			return fmt.Errorf("unlock %s: %w", l.key, err)
		}
		return nil
	}, nil
}
