package retry

import (
	"context"
	"errors"
	"time"
)

// DoConfig holds configuration for Do.
type DoConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 5
	MaxAttempts int

	// Backoff spaces the attempts. Attempt n waits Backoff.Delay(n).
	// Default: exponential jitter from 100ms, capped at 5s.
	Backoff BackoffConfig

	// Retryable filters errors worth retrying. Nil means IsTransient.
	Retryable func(error) bool
}

// DefaultDoConfig returns the configuration used for store calls.
func DefaultDoConfig() DoConfig {
	return DoConfig{
		MaxAttempts: 5,
		Backoff: BackoffConfig{
			Strategy:   StrategyExponentialJitter,
			Base:       100 * time.Millisecond,
			Multiplier: 2,
			Max:        5 * time.Second,
			Jitter:     DefaultJitter,
		},
	}
}

// Do executes op with backoff between failed attempts. It respects context
// cancellation and returns the last error if all attempts fail.
func Do(ctx context.Context, cfg DoConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt >= cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// DoAsync runs Do in a goroutine. The channel receives the result and is
// closed.
func DoAsync(ctx context.Context, cfg DoConfig, op func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- Do(ctx, cfg, op)
	}()
	return done
}

// IsTransient determines if an error is worth retrying.
// Returns false for nil and context cancellation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Connection errors, lock timeouts and deadlocks are all worth another
	// try, so anything else is retried.
	return true
}
