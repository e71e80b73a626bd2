package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/retry"
)

// Handler executes one job and reports its outcome.
type Handler func(ctx context.Context, job *core.Job) core.Outcome

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain composes mws into one Middleware. The first is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](next)
			}
		}
		return next
	}
}

// Recover converts a panic in the rest of the pipeline into an
// unclassified failure.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job *core.Job) (out core.Outcome) {
			defer func() {
				if r := recover(); r != nil {
					slog.Default().Error("job panicked",
						"job_id", job.ID,
						"job_type", job.Type,
						"panic", r,
						"stack", string(debug.Stack()))
					out = core.Unclassified(fmt.Errorf("panic: %v", r))
				}
			}()
			return next(ctx, job)
		}
	}
}

// Logging records the start, end and duration of every job. A nil logger
// uses slog.Default().
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, job *core.Job) core.Outcome {
			logger.Debug("job started",
				"job_id", job.ID,
				"job_type", job.Type,
				"queue", job.Queue,
				"attempt", job.Attempts)

			start := time.Now()
			out := next(ctx, job)
			attrs := []any{
				"job_id", job.ID,
				"job_type", job.Type,
				"queue", job.Queue,
				"attempt", job.Attempts,
				"outcome", out.Kind.String(),
				"duration", time.Since(start),
			}
			if out.Err != nil {
				logger.Warn("job finished", append(attrs, "error", out.Err)...)
			} else {
				logger.Info("job finished", attrs...)
			}
			return out
		}
	}
}

// Classify resolves unclassified failures with the retry manager: errors it
// deems non-retryable become permanent, others a retry after the backoff
// for the current attempt. Explicit outcomes pass through.
func Classify(m *retry.Manager) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, job *core.Job) core.Outcome {
			out := next(ctx, job)
			if out.Kind != core.OutcomeUnclassified || m == nil {
				return out
			}
			return m.Classify(out.Err, job.Attempts)
		}
	}
}

// Throttle limits how often jobs of one type run, across every worker
// sharing store. Over the limit the job is deferred until the window has
// room, without running and without being charged an attempt. Store
// failures let the job through.
func Throttle(store core.RateStore, limit int, window time.Duration) Middleware {
	return func(next Handler) Handler {
		if store == nil || limit <= 0 || window <= 0 {
			return next
		}
		return func(ctx context.Context, job *core.Job) core.Outcome {
			allowed, wait, err := store.HitRate(ctx, "throttle:"+job.Type, limit, window)
			if err != nil {
				slog.Default().Warn("throttle check failed, running job",
					"job_id", job.ID,
					"job_type", job.Type,
					"error", err)
				return next(ctx, job)
			}
			if !allowed {
				return core.Retry(wait, core.ErrThrottled)
			}
			return next(ctx, job)
		}
	}
}

// MemoryReader reports the process memory in bytes.
type MemoryReader func() uint64

// ReadMemory returns the memory obtained from the OS by the Go runtime.
func ReadMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// BytesToMB converts a byte count to megabytes.
func BytesToMB(b uint64) float64 {
	return float64(b) / (1 << 20)
}

// MemoryLimit checks memory after each job and calls onExceed when it is
// above limitMB. The outcome is not changed; the callback typically stops
// the worker. A nil read uses ReadMemory.
func MemoryLimit(limitMB int, read MemoryReader, onExceed func(ctx context.Context, job *core.Job, usedMB float64)) Middleware {
	if read == nil {
		read = ReadMemory
	}
	return func(next Handler) Handler {
		if limitMB <= 0 {
			return next
		}
		return func(ctx context.Context, job *core.Job) core.Outcome {
			out := next(ctx, job)
			if used := BytesToMB(read()); used > float64(limitMB) && onExceed != nil {
				onExceed(ctx, job, used)
			}
			return out
		}
	}
}
