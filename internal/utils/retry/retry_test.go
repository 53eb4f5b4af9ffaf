package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoRetriesOnce(t *testing.T) {
	r := NewRetry(Once(time.Millisecond, nil))
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, r.Attempts())
	assert.Equal(t, 1, r.Failures())
}

func TestDoStopsWhenConditionRejects(t *testing.T) {
	fatal := errors.New("fatal")
	r := NewRetry(Once(time.Millisecond, func(err error) bool { return errors.Is(err, errTransient) }))
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoAttemptPassesIndex(t *testing.T) {
	var seen []int
	var retried []int
	cfg := Once(time.Millisecond, nil)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }
	err := NewRetry(cfg).DoAttempt(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt == 0 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seen)
	assert.Equal(t, []int{1}, retried)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := NewRetry(Once(time.Hour, nil)).Do(ctx, func() error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name     string
		strategy RetryStrategy
		attempt  int
		want     time.Duration
	}{
		{"fixed", FixedInterval, 3, 100 * time.Millisecond},
		{"linear", LinearBackoff, 3, 300 * time.Millisecond},
		{"exponential", ExponentialBackoff, 3, 400 * time.Millisecond},
		{"exponential_capped", ExponentialBackoff, 10, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(&Config{
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      time.Second,
				Strategy:      tt.strategy,
				BackoffFactor: 2,
			})
			assert.Equal(t, tt.want, r.calculateDelay(tt.attempt))
		})
	}
}
