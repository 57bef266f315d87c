// Package retry provides bounded retries for idempotent reads against the store.
// Writes must not go through here; they rely on transactions instead.
package retry

import (
	"context"
	"time"

	"wacrm_backend/platform/apperr"
)

// Policy configures Do.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultPolicy is used when a caller passes the zero value.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 50 * time.Millisecond}

// Do runs fn until it succeeds, returns a non-transient error, or attempts run out.
// The delay before attempt n+1 is n*n*BaseDelay.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if policy.Attempts < 1 {
		policy = DefaultPolicy
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			return zero, err
		}

		if attempt < policy.Attempts {
			delay := time.Duration(attempt*attempt) * policy.BaseDelay
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, lastErr
}
