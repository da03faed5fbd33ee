package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Acquire returns ErrLockHeld when
// another holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus provides pub/sub messaging for downstream consumers (the
// WebSocket hub, external subscribers).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MarketResolver maps an outcome-token asset id to its condition id.
// Implementations typically sit on top of a market metadata API; the indexer
// works without one and leaves ConditionID empty.
type MarketResolver interface {
	ResolveCondition(ctx context.Context, tokenID string) (string, error)
}

// ConditionCache caches token-id to condition-id mappings.
type ConditionCache interface {
	Get(ctx context.Context, tokenID string) (string, error)
	Set(ctx context.Context, tokenID, conditionID string) error
}
