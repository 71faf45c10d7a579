package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultRetryDelays is the backoff schedule between attempts.
var DefaultRetryDelays = []time.Duration{200 * time.Millisecond, 500 * time.Millisecond, 1200 * time.Millisecond}

const defaultMaxAttempts = 3

// Retrier re-invokes a gateway operation on transient failure. Forbidden and
// unclassified errors are fatal and never retried; NotFound is retried only
// when the caller opts in, because absence is usually a legitimate signal
// rather than a fault.
type Retrier struct {
	MaxAttempts   int
	Delays        []time.Duration
	RetryNotFound bool
}

// Do runs op until it succeeds, returns a fatal error, or the attempt budget
// is exhausted, in which case the last error is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	maxAttempts := defaultMaxAttempts
	if r != nil && r.MaxAttempts > 0 {
		maxAttempts = r.MaxAttempts
	}
	delays := DefaultRetryDelays
	if r != nil && len(r.Delays) > 0 {
		delays = r.Delays
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := waitWithContext(ctx, delays[min(attempt-1, len(delays)-1)]); err != nil {
				return err
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !r.retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// WithRetries runs op with the default retry policy.
func WithRetries(ctx context.Context, op func(ctx context.Context) error) error {
	return (&Retrier{}).Do(ctx, op)
}

func (r *Retrier) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrForbidden) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return r != nil && r.RetryNotFound
	}
	return errors.Is(err, ErrTransient)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
