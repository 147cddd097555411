// Package idempotency claims (scope, id) pairs in Redis so a unit of work runs at most once per TTL.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrScopeRequired = errors.New("idempotency scope is required")
	ErrIDRequired    = errors.New("idempotency id is required")
)

// Store is satisfied by *redis.Client.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds a Manager whose claims expire after ttl. A zero ttl never expires.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim reports whether the caller is the first to see (scope, id). A claim whose work fails
// should be released so a retry can take it again.
func (m *Manager) Claim(ctx context.Context, scope, id string) (bool, error) {
	key, err := m.key(scope, id)
	if err != nil {
		return false, err
	}
	first, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return first, nil
}

func (m *Manager) Release(ctx context.Context, scope, id string) error {
	key, err := m.key(scope, id)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Once runs fn only when the claim is fresh and releases the claim if fn fails. ran is false
// when another caller already holds the claim.
func (m *Manager) Once(ctx context.Context, scope, id string, fn func(context.Context) error) (ran bool, err error) {
	first, err := m.Claim(ctx, scope, id)
	if err != nil || !first {
		return false, err
	}
	if err := fn(ctx); err != nil {
		if relErr := m.Release(context.WithoutCancel(ctx), scope, id); relErr != nil {
			return true, errors.Join(err, relErr)
		}
		return true, err
	}
	return true, nil
}

func (m *Manager) key(scope, id string) (string, error) {
	scope, id = strings.TrimSpace(scope), strings.TrimSpace(id)
	switch {
	case scope == "":
		return "", ErrScopeRequired
	case id == "":
		return "", ErrIDRequired
	}
	return m.store.IdempotencyKey(scope, id), nil
}
