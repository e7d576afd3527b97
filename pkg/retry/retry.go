// Package retry re-runs caller operations that failed for a transient,
// coded reason. The engine itself never retries; callers opt in.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	dErrors "pmhub/pkg/domain-errors"
)

// Policy bounds a retry loop. Zero fields take the Default values.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxAttempts     uint64
}

// Default suits interactive callers.
func Default() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
		MaxAttempts:     5,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	d := Default()
	// BackOff implementations are stateful; build a fresh one per loop.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = orDefault(p.InitialInterval, d.InitialInterval)
	bo.MaxInterval = orDefault(p.MaxInterval, d.MaxInterval)
	bo.MaxElapsedTime = orDefault(p.MaxElapsed, d.MaxElapsed)
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = d.MaxAttempts
	}
	// WithMaxRetries counts retries after the first attempt.
	return backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx)
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// Do runs fn until it succeeds, fails with a code outside retryable, or the
// policy is exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, retryable ...dErrors.Code) error {
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		for _, code := range retryable {
			if dErrors.HasCode(err, code) {
				return err
			}
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))
}

// OnUnavailable retries while the store is unreachable. Use it for reads and
// for writes carrying a version token, which cannot apply twice.
func OnUnavailable(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return Do(ctx, p, fn, dErrors.CodeStoreUnavailable)
}

// OnConflict retries while fn loses a concurrent write. fn must reload the
// record and recompute its change on every attempt.
func OnConflict(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return Do(ctx, p, fn, dErrors.CodeVersionConflict)
}
