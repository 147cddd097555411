package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/codevault-backend/pkg/idempotency"
)

const (
	// GuardScope namespaces webhook delivery markers in Redis.
	GuardScope = "webhook:nowpayments"

	inFlightGuardScope      = GuardScope + ":inflight"
	defaultDeliveryInFlight = 2 * time.Minute
)

// GuardStore is the Redis surface the guard needs. *redis.Client from pkg/redis satisfies it.
type GuardStore interface {
	idempotency.Store
	Get(ctx context.Context, key string) (string, error)
}

// IdempotencyGuard short-circuits exact redeliveries of a (payment, status) pair. A delivery is
// only remembered once its transaction committed; while it runs it holds a short in-flight claim
// that expires on its own if the process dies.
type IdempotencyGuard struct {
	store    GuardStore
	inFlight *idempotency.Manager
	ttl      time.Duration
}

func NewIdempotencyGuard(store GuardStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	inFlight, err := idempotency.NewManager(store, defaultDeliveryInFlight)
	if err != nil {
		return nil, err
	}
	return &IdempotencyGuard{store: store, inFlight: inFlight, ttl: ttl}, nil
}

// Processed reports whether a delivery with key already committed.
func (g *IdempotencyGuard) Processed(ctx context.Context, key string) (bool, error) {
	raw, err := g.store.Get(ctx, g.store.IdempotencyKey(GuardScope, key))
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check delivery %s: %w", key, err)
	}
	return raw != "", nil
}

// Claim returns true when no other worker is processing key right now.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.inFlight.Claim(ctx, inFlightGuardScope, key)
}

// Release drops the in-flight claim so the provider's retry is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	return g.inFlight.Release(ctx, inFlightGuardScope, key)
}

// MarkProcessed records a committed delivery for the full TTL.
func (g *IdempotencyGuard) MarkProcessed(ctx context.Context, key string, at time.Time) error {
	if _, err := g.store.SetNX(ctx, g.store.IdempotencyKey(GuardScope, key), at.UTC().Format(time.RFC3339), g.ttl); err != nil {
		return fmt.Errorf("mark delivery %s: %w", key, err)
	}
	return nil
}
