package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Default retry parameters, matching what public Polygon RPC gateways
// tolerate in practice.
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
)

// RetryPolicy retries retryable RPC failures with exponential backoff and
// full jitter. It is injected into the Fetcher so tests can exercise
// exhausted-retry paths deterministically.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// sleep is replaceable in tests. Nil means context-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// Delay returns the backoff delay before the given 1-based attempt, with
// full jitter applied.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceil := p.BackoffCap
	if ceil <= 0 {
		ceil = DefaultBackoffCap
	}

	d := base << (attempt - 1)
	if d <= 0 || d > ceil {
		d = ceil
	}
	// Full jitter: uniform in (0, d].
	return time.Duration(rand.Int64N(int64(d))) + 1
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. Rate-limit errors double the computed delay.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if errors.Is(err, ErrRateLimited) {
			delay *= 2
		}
		if sleepErr := p.sleepFn(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("chain: retries exhausted after %d attempts: %w", attempts, err)
}

func (p RetryPolicy) sleepFn(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
