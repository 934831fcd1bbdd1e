// Package retry provides the one bounded retry-with-backoff primitive shared
// by the provider client and the verification loops.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retried operation by attempt count and per-attempt delay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Exponential doubles the delay after every failed attempt.
	Exponential bool
}

// Do runs op up to MaxAttempts times, sleeping between attempts. It returns
// nil on the first success, the last error once attempts are spent, or the
// context error if the context is cancelled mid-wait.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return p.DoRetryable(ctx, op, func(error) bool { return true })
}

// DoRetryable is Do with a retryable-error predicate: a non-retryable error
// stops the loop immediately and is returned as-is.
func (p Policy) DoRetryable(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			if p.Exponential {
				delay *= 2
			}
		}

		if err := op(); err != nil {
			lastErr = err
			if !retryable(err) {
				return err
			}
			continue
		}
		return nil
	}

	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
