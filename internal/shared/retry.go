package shared

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a conflicting write is replayed.
type RetryPolicy struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

// DefaultRetryPolicy is used when callers pass a zero policy.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Initial: 20 * time.Millisecond, Max: 500 * time.Millisecond}

// Retry runs fn and replays it while it fails with ErrConcurrencyConflict.
// Any other error stops immediately and is returned as-is.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.MaxRetries == 0 && policy.Initial == 0 {
		policy = DefaultRetryPolicy
	}
	exp := backoff.NewExponentialBackOff()
	if policy.Initial > 0 {
		exp.InitialInterval = policy.Initial
	}
	if policy.Max > 0 {
		exp.MaxInterval = policy.Max
	}
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, policy.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
