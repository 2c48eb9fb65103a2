package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	r := fast(WithMaxAttempts(4), WithOnRetry(func(a int, _ error, _ time.Duration) { retried = append(retried, a) }))

	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	wrapped := fmt.Errorf("parse url: %w", errFlaky)
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(wrapped)
	})

	assert.Equal(t, wrapped, err, "returned unwrapped")
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast().Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_IsCapped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))

	assert.Equal(t, time.Second, r.Backoff(1))
	assert.Equal(t, 2*time.Second, r.Backoff(2))
	assert.Equal(t, 3*time.Second, r.Backoff(5))
}

func TestBackoff_Multiplier(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(time.Minute), WithMultiplier(3), WithJitter(0))

	assert.Equal(t, 3*time.Second, r.Backoff(2))
	assert.Equal(t, 9*time.Second, r.Backoff(3))
}

func TestConnectRetrier(t *testing.T) {
	var delays []time.Duration
	r := ConnectRetrier(func(_ int, _ error, d time.Duration) { delays = append(delays, d) })

	assert.Equal(t, 6, r.config.MaxAttempts)
	assert.Equal(t, 8*time.Second, r.config.MaxDelay)
	assert.InDelta(t, float64(500*time.Millisecond), float64(r.Backoff(1)), float64(100*time.Millisecond))
	assert.LessOrEqual(t, r.Backoff(10), time.Duration(float64(8*time.Second)*1.2))

	err := r.Do(context.Background(), func(context.Context) error { return Permanent(errFlaky) })
	assert.Equal(t, errFlaky, err)
	assert.Empty(t, delays, "permanent errors are not retried")
}
