// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"
	"errors"

	"github.com/jdziat/durable-queue/pkg/core"
	intctx "github.com/jdziat/durable-queue/pkg/internal/context"
)

// ErrNotInJob is returned by Submit outside of a job handler.
var ErrNotInJob = errors.New("queue: not running inside a job handler")

// JobFromContext returns the current Job from context, or nil if not in a job handler.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// AttemptFromContext returns the attempt number of the running job, starting
// at 1, or 0 outside a handler.
func AttemptFromContext(ctx context.Context) int {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.Attempts
}

// WorkerIDFromContext returns the id of the worker executing the job.
func WorkerIDFromContext(ctx context.Context) string {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return ""
	}
	return jc.WorkerID
}

// Submit enqueues a follow-up job from inside a handler, on the same queue
// manager that runs the current job.
func Submit(ctx context.Context, name string, args any) (string, error) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Submit == nil {
		return "", ErrNotInJob
	}
	return jc.Submit(ctx, name, args)
}
