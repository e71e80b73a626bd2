package jobctx

import (
	"context"
	"errors"
	"testing"

	"github.com/jdziat/durable-queue/pkg/core"
	intctx "github.com/jdziat/durable-queue/pkg/internal/context"
)

func TestJobFromContext(t *testing.T) {
	t.Run("returns job when set in context", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		job := &core.Job{
			ID:   "test-job-123",
			Type: "email",
		}
		jobCtx := &intctx.JobContext{Job: job}
		ctx := intctx.WithJobContext(baseCtx, jobCtx)

		// Act
		result := JobFromContext(ctx)

		// Assert
		if result == nil {
			t.Fatal("expected job, got nil")
		}
		if result != nil && result.ID != "test-job-123" {
			t.Errorf("expected job ID %q, got %q", "test-job-123", result.ID)
		}
		if result != nil && result.Type != "email" {
			t.Errorf("expected job type %q, got %q", "email", result.Type)
		}
	})

	t.Run("returns nil when not set in context", func(t *testing.T) {
		// Arrange
		ctx := context.Background()

		// Act
		result := JobFromContext(ctx)

		// Assert
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})

	t.Run("returns nil when job context is nil", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		jobCtx := &intctx.JobContext{Job: nil}
		ctx := intctx.WithJobContext(baseCtx, jobCtx)

		// Act
		result := JobFromContext(ctx)

		// Assert
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

func TestJobIDFromContext(t *testing.T) {
	t.Run("returns job ID when set in context", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		job := &core.Job{ID: "job-id-456"}
		jobCtx := &intctx.JobContext{Job: job}
		ctx := intctx.WithJobContext(baseCtx, jobCtx)

		// Act
		result := JobIDFromContext(ctx)

		// Assert
		if result != "job-id-456" {
			t.Errorf("expected job ID %q, got %q", "job-id-456", result)
		}
	})

	t.Run("returns empty string when not set in context", func(t *testing.T) {
		// Arrange
		ctx := context.Background()

		// Act
		result := JobIDFromContext(ctx)

		// Assert
		if result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})

	t.Run("returns empty string when job is nil", func(t *testing.T) {
		// Arrange
		baseCtx := context.Background()
		jobCtx := &intctx.JobContext{Job: nil}
		ctx := intctx.WithJobContext(baseCtx, jobCtx)

		// Act
		result := JobIDFromContext(ctx)

		// Assert
		if result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})
}


func TestAttemptAndWorkerFromContext(t *testing.T) {
	t.Run("returns values inside a handler", func(t *testing.T) {
		// Arrange
		jobCtx := &intctx.JobContext{
			Job:      &core.Job{ID: "job-1", Attempts: 2},
			WorkerID: "worker-9",
		}
		ctx := intctx.WithJobContext(context.Background(), jobCtx)

		// Act / Assert
		if got := AttemptFromContext(ctx); got != 2 {
			t.Errorf("expected attempt 2, got %d", got)
		}
		if got := WorkerIDFromContext(ctx); got != "worker-9" {
			t.Errorf("expected worker %q, got %q", "worker-9", got)
		}
	})

	t.Run("returns zero values outside a handler", func(t *testing.T) {
		ctx := context.Background()
		if got := AttemptFromContext(ctx); got != 0 {
			t.Errorf("expected attempt 0, got %d", got)
		}
		if got := WorkerIDFromContext(ctx); got != "" {
			t.Errorf("expected empty worker, got %q", got)
		}
	})
}

func TestSubmit(t *testing.T) {
	t.Run("delegates to the job context", func(t *testing.T) {
		// Arrange
		var gotArgs any
		jobCtx := &intctx.JobContext{
			Job: &core.Job{ID: "parent"},
			Submit: func(_ context.Context, name string, args any) (string, error) {
				gotArgs = args
				return name + "-id", nil
			},
		}
		ctx := intctx.WithJobContext(context.Background(), jobCtx)

		// Act
		id, err := Submit(ctx, "notify", map[string]string{"to": "ops"})

		// Assert
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "notify-id" {
			t.Errorf("expected id %q, got %q", "notify-id", id)
		}
		if gotArgs == nil {
			t.Error("expected args to be forwarded")
		}
	})

	t.Run("fails outside a handler", func(t *testing.T) {
		_, err := Submit(context.Background(), "notify", nil)
		if !errors.Is(err, ErrNotInJob) {
			t.Errorf("expected ErrNotInJob, got %v", err)
		}
	})
}
