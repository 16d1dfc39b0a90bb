package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/keymarket-backend/pkg/redis"
)

type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark claims txID and reports true when it was already claimed.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, txID string) (bool, error) {
	if txID == "" {
		return false, errors.New("transaction id is required")
	}
	key := g.store.IdempotencyKey(g.scope, txID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

func (g *IdempotencyGuard) Release(ctx context.Context, txID string) error {
	if txID == "" {
		return errors.New("transaction id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, txID))
}
