// Package context provides context helpers for the queue.
package context

import (
	"context"

	"github.com/jdziat/durable-queue/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the current job and the worker executing it.
type JobContext struct {
	Job      *core.Job
	WorkerID string
	// Submit enqueues a follow-up job on the queue that runs this one.
	Submit func(ctx context.Context, name string, args any) (string, error)
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
