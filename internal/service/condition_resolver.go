package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/polyindexer/internal/domain"
)

// CachingResolver wraps a MarketResolver with a ConditionCache so repeated
// fills for the same outcome token only hit the upstream resolver once.
// Cache failures fall through to the resolver; they never fail a lookup.
type CachingResolver struct {
	next   domain.MarketResolver
	cache  domain.ConditionCache
	logger *slog.Logger
}

// NewCachingResolver creates a CachingResolver around next.
func NewCachingResolver(next domain.MarketResolver, cache domain.ConditionCache, logger *slog.Logger) *CachingResolver {
	return &CachingResolver{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

// ResolveCondition returns the condition id for an outcome token, consulting
// the cache first.
func (r *CachingResolver) ResolveCondition(ctx context.Context, tokenID string) (string, error) {
	conditionID, err := r.cache.Get(ctx, tokenID)
	if err == nil {
		return conditionID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		r.logger.WarnContext(ctx, "condition cache read failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}

	conditionID, err = r.next.ResolveCondition(ctx, tokenID)
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ctx, tokenID, conditionID); err != nil {
		r.logger.WarnContext(ctx, "condition cache write failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}
	return conditionID, nil
}

var _ domain.MarketResolver = (*CachingResolver)(nil)
