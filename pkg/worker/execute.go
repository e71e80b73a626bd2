package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	intctx "github.com/jdziat/durable-queue/pkg/internal/context"
	"github.com/jdziat/durable-queue/pkg/middleware"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/security"
)

// process runs a claimed job and records its outcome on driver.
func (w *Worker) process(ctx context.Context, driver core.Driver, job *core.Job) error {
	cfg := w.queue.QueueConfig(job.Queue)

	if job.Attempts > job.MaxAttempts {
		w.logger.Warn("job reserved past its attempt budget",
			"job_id", job.ID,
			"attempts", job.Attempts,
			"max_attempts", job.MaxAttempts)
		return w.fail(ctx, driver, job, core.ErrMaxAttemptsExceeded, 0)
	}

	h, ok := w.queue.Handler(job.Type)
	if !ok {
		w.logger.Error("no handler for job", "job_id", job.ID, "type", job.Type)
		return w.fail(ctx, driver, job, fmt.Errorf("%w for %q", core.ErrNoHandler, job.Type), 0)
	}

	pipeline, err := w.queue.Pipeline(job.Queue)
	if err != nil {
		// A misconfigured queue must not burn the job.
		if relErr := w.release(ctx, driver, job, w.queue.Now().Add(w.config.IdleDelay), nil); relErr != nil {
			return relErr
		}
		return err
	}

	started := time.Now()
	w.queue.CallStartHooks(ctx, job)
	w.queue.Emit(&core.JobStarted{Job: job, WorkerID: w.config.WorkerID, Timestamp: started})

	timeout := w.timeoutFor(job, cfg)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	execCtx = intctx.WithJobContext(execCtx, &intctx.JobContext{
		Job:      job,
		WorkerID: w.config.WorkerID,
		Submit: func(ctx context.Context, name string, args any) (string, error) {
			return w.queue.Submit(ctx, name, args)
		},
	})

	run := middleware.Chain(
		middleware.Recover(),
		pipeline,
		middleware.MemoryLimit(cfg.MemoryLimitMB, w.memory, w.memoryExceeded),
	)(func(ctx context.Context, job *core.Job) core.Outcome {
		return h.Execute(ctx, job)
	})
	out := run(execCtx, job)
	elapsed := time.Since(started)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out = core.Unclassified(fmt.Errorf("%w after %v", core.ErrJobTimeout, timeout))
	}

	if !out.Succeeded() && ctx.Err() != nil && isCancellation(out.Err) {
		// Shut down mid-job: the attempt did not really happen.
		w.logger.Info("job interrupted by shutdown, releasing", "job_id", job.ID)
		return w.release(ctx, driver, job, w.queue.Now(), nil)
	}

	return w.record(ctx, driver, job, cfg, out, elapsed)
}

func (w *Worker) timeoutFor(job *core.Job, cfg queue.QueueConfig) time.Duration {
	switch {
	case job.Timeout > 0:
		return job.Timeout
	case cfg.Timeout > 0:
		return cfg.Timeout
	case w.config.Timeout > 0:
		return w.config.Timeout
	default:
		return DefaultTimeout
	}
}

func (w *Worker) memoryExceeded(_ context.Context, job *core.Job, usedMB float64) {
	w.logger.Warn("queue memory limit exceeded, stopping worker",
		"job_id", job.ID,
		"queue", job.Queue,
		"memory_mb", usedMB)
	w.overMemory.Store(true)
}

// record applies the outcome of one execution to the job.
func (w *Worker) record(ctx context.Context, driver core.Driver, job *core.Job, cfg queue.QueueConfig, out core.Outcome, elapsed time.Duration) error {
	switch out.Kind {
	case core.OutcomeSuccess:
		return w.complete(ctx, driver, job, elapsed)
	case core.OutcomePermanent:
		return w.fail(ctx, driver, job, out.Err, elapsed)
	case core.OutcomeUnclassified:
		resolved := w.retry.Classify(out.Err, job.Attempts)
		var explicit *core.RetryAfterError
		if resolved.Kind == core.OutcomeRetry && cfg.Backoff != nil && !errors.As(out.Err, &explicit) {
			resolved.Delay = cfg.Backoff.Delay(job.Attempts)
		}
		out = resolved
		if out.Kind == core.OutcomePermanent {
			return w.fail(ctx, driver, job, out.Err, elapsed)
		}
	}

	if errors.Is(out.Err, core.ErrThrottled) {
		w.logger.Debug("job throttled", "job_id", job.ID, "job_type", job.Type, "wait", out.Delay)
		return w.release(ctx, driver, job, w.queue.Now().Add(out.Delay), nil)
	}

	if job.Attempts >= job.MaxAttempts {
		return w.fail(ctx, driver, job, out.Err, elapsed)
	}
	return w.retryLater(ctx, driver, job, out, elapsed)
}

func (w *Worker) complete(ctx context.Context, driver core.Driver, job *core.Job, elapsed time.Duration) error {
	err := w.storeCall(ctx, func(ctx context.Context) error {
		return driver.Delete(ctx, job.ID, w.config.WorkerID)
	})
	if err != nil {
		w.logger.Error("failed to complete job after retries", "job_id", job.ID, "error", err)
		return err
	}
	// The job is gone from the store, so its follow-up work must not be
	// lost to a shutdown that cancels ctx mid-job.
	detached := context.WithoutCancel(ctx)
	w.queue.ReleaseUnique(detached, job)
	w.retry.Forget(job.ID)

	var memMB float64
	if w.config.Monitor {
		memMB = middleware.BytesToMB(w.memory())
	}
	w.queue.CallCompleteHooks(detached, job)
	w.queue.Emit(&core.JobCompleted{Job: job, Duration: elapsed, MemoryMB: memMB, Timestamp: w.queue.Now()})
	return nil
}

func (w *Worker) retryLater(ctx context.Context, driver core.Driver, job *core.Job, out core.Outcome, elapsed time.Duration) error {
	now := w.queue.Now()
	rec := &core.AttemptRecord{
		Attempt:   job.Attempts,
		At:        now,
		Delay:     out.Delay,
		ErrorKind: core.ErrorKind(out.Err),
		Error:     security.SanitizeErrorMessage(out.Error()),
	}
	nextRun := now.Add(out.Delay)
	if err := w.release(ctx, driver, job, nextRun, rec); err != nil {
		return err
	}
	job.History = append(job.History, *rec)
	job.LastError = rec.Error

	w.logger.Info("job will retry",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"delay", out.Delay,
		"error", out.Err)
	w.queue.CallRetryHooks(context.WithoutCancel(ctx), job, job.Attempts, out.Err)
	w.queue.Emit(&core.JobRetrying{
		Job:       job,
		Attempt:   job.Attempts,
		Error:     out.Err,
		Duration:  elapsed,
		NextRunAt: nextRun,
		Timestamp: now,
	})
	return nil
}

func (w *Worker) release(ctx context.Context, driver core.Driver, job *core.Job, at time.Time, rec *core.AttemptRecord) error {
	err := w.storeCall(ctx, func(ctx context.Context) error {
		return driver.Release(ctx, job.ID, w.config.WorkerID, at, rec)
	})
	if err != nil {
		w.logger.Error("failed to release job after retries", "job_id", job.ID, "error", err)
	}
	return err
}

// fail moves the job to the failed store: atomically when the driver can
// bury, otherwise by saving the record before deleting the live job.
func (w *Worker) fail(ctx context.Context, driver core.Driver, job *core.Job, cause error, elapsed time.Duration) error {
	if cause == nil {
		cause = errors.New("job failed")
	}
	now := w.queue.Now()
	msg := security.SanitizeErrorMessage(cause.Error())
	history := append(job.History, core.AttemptRecord{
		Attempt:   job.Attempts,
		At:        now,
		ErrorKind: core.ErrorKind(cause),
		Error:     msg,
	})
	failed := &core.FailedJob{
		ID:        job.ID,
		Type:      job.Type,
		Queue:     job.Queue,
		Payload:   job.Payload,
		Exception: msg,
		ErrorKind: core.ErrorKind(cause),
		Attempts:  job.Attempts,
		Priority:  job.Priority,
		Backend:   job.Backend,
		ChainID:   job.ChainID,
		ChainStep: job.ChainStep,
		BatchID:   job.BatchID,
		History:   history,
		FailedAt:  now,
	}

	var err error
	if b, ok := driver.(core.Burier); ok {
		err = w.storeCall(ctx, func(ctx context.Context) error {
			return b.Bury(ctx, job.ID, w.config.WorkerID, failed)
		})
	} else {
		err = w.storeCall(ctx, func(ctx context.Context) error {
			return w.queue.Storage().SaveFailed(ctx, failed)
		})
		if err == nil {
			err = w.storeCall(ctx, func(ctx context.Context) error {
				return driver.Delete(ctx, job.ID, w.config.WorkerID)
			})
		}
	}
	if err != nil {
		w.logger.Error("failed to record job failure after retries", "job_id", job.ID, "error", err)
		return err
	}

	job.History = history
	job.LastError = msg
	detached := context.WithoutCancel(ctx)
	w.queue.ReleaseUnique(detached, job)
	w.retry.Forget(job.ID)

	w.logger.Warn("job failed",
		"job_id", job.ID,
		"job_type", job.Type,
		"queue", job.Queue,
		"attempts", job.Attempts,
		"error", cause)
	w.queue.CallFailHooks(detached, job, cause)
	w.queue.Emit(&core.JobFailed{Job: job, Error: cause, Duration: elapsed, Timestamp: now})
	return nil
}
