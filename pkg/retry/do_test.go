package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) DoConfig {
	return DoConfig{
		MaxAttempts: attempts,
		Backoff:     BackoffConfig{Strategy: StrategyExponential, Base: 5 * time.Millisecond, Multiplier: 2, Max: 20 * time.Millisecond},
	}
}

func TestDefaultDoConfig(t *testing.T) {
	cfg := DefaultDoConfig()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, StrategyExponentialJitter, cfg.Backoff.Strategy)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Base)
	assert.Equal(t, 5*time.Second, cfg.Backoff.Max)
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var attempts int
	expectedErr := errors.New("persistent error")

	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DoConfig{
		MaxAttempts: 10,
		Backoff:     BackoffConfig{Strategy: StrategyLinear, Base: time.Second},
	}

	var attempts atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func(context.Context) error {
		attempts.Add(1)
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)

	attempts = 0
	cfg := fastConfig(5)
	cfg.Retryable = func(error) bool { return false }
	_ = Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return errors.New("no")
	})
	assert.Equal(t, 1, attempts)
}

func TestDoAsync(t *testing.T) {
	var attempts atomic.Int32
	done := DoAsync(context.Background(), fastConfig(3), func(context.Context) error {
		if attempts.Add(1) < 2 {
			return errors.New("once")
		}
		return nil
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DoAsync did not finish")
	}
	assert.Equal(t, int32(2), attempts.Load())

	_, open := <-done
	assert.False(t, open)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("connection reset")))
}
