package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	policy := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestDo_RecoversMidway(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, Delay: time.Millisecond}

	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 0}

	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetryable_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	transient := errors.New("transient")
	calls := 0
	policy := Policy{MaxAttempts: 5, Delay: time.Millisecond}

	err := policy.DoRetryable(context.Background(), func() error {
		calls++
		if calls == 2 {
			return fatal
		}
		return transient
	}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{MaxAttempts: 10, Delay: time.Hour}

	err := policy.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("keep going")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ExponentialBackoffDelays(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		delay    time.Duration
		minTotal time.Duration
	}{
		{"two attempts", 2, 10 * time.Millisecond, 10 * time.Millisecond},
		{"three attempts", 3, 10 * time.Millisecond, 30 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := Policy{MaxAttempts: tt.attempts, Delay: tt.delay, Exponential: true}
			start := time.Now()

			_ = policy.Do(context.Background(), func() error {
				return errors.New("fail")
			})

			assert.GreaterOrEqual(t, time.Since(start), tt.minTotal)
		})
	}
}
