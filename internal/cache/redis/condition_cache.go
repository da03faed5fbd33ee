package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// conditionTTL bounds how long a token-to-condition mapping is cached. The
// mapping itself never changes, but the TTL keeps Redis from accumulating
// entries for tokens that stop trading.
const conditionTTL = 24 * time.Hour

// ConditionCache implements domain.ConditionCache using plain Redis strings.
//
// Key schema:
//
//	condition:token:{tokenID} - string value of the condition ID
type ConditionCache struct {
	rdb *redis.Client
}

// NewConditionCache creates a ConditionCache backed by the given Client.
func NewConditionCache(c *Client) *ConditionCache {
	return &ConditionCache{rdb: c.Underlying()}
}

func conditionKey(tokenID string) string {
	return "condition:token:" + tokenID
}

// Get returns the cached condition id for a token, or domain.ErrNotFound on
// a cache miss.
func (cc *ConditionCache) Get(ctx context.Context, tokenID string) (string, error) {
	val, err := cc.rdb.Get(ctx, conditionKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get condition for token %s: %w", tokenID, err)
	}
	return val, nil
}

// Set stores a token-to-condition mapping.
func (cc *ConditionCache) Set(ctx context.Context, tokenID, conditionID string) error {
	if err := cc.rdb.Set(ctx, conditionKey(tokenID), conditionID, conditionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set condition for token %s: %w", tokenID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ConditionCache = (*ConditionCache)(nil)
