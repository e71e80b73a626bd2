package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Orchestrator dispatches batches and settles them from queue hooks.
type Orchestrator struct {
	queue  *queue.Queue
	store  core.BatchStore
	logger *slog.Logger
}

// New creates an Orchestrator and registers its hooks on q. Every process
// running workers for batch members must create one.
func New(q *queue.Queue) *Orchestrator {
	o := &Orchestrator{
		queue:  q,
		store:  q.Storage(),
		logger: q.Logger(),
	}
	q.OnJobComplete(o.onComplete)
	q.OnJobFail(o.onFail)
	return o
}

// Dispatch stores the batch counters and submits every member. Members
// are never deduplicated: a unique option would leave the batch waiting on
// a job that does not belong to it.
func (o *Orchestrator) Dispatch(ctx context.Context, def Definition) (*core.Batch, error) {
	if len(def.Members) == 0 {
		return nil, core.ErrEmptyBatch
	}
	if def.FailureThreshold < 0 || def.FailureThreshold > 1 {
		return nil, fmt.Errorf("batch: failure threshold %v out of range [0,1]", def.FailureThreshold)
	}
	target := def.Queue
	if target == "" {
		target = core.DefaultQueue
	}
	if err := security.ValidateQueueName(target); err != nil {
		return nil, err
	}
	for i, m := range def.Members {
		if !o.queue.HasHandler(m.Type) {
			return nil, fmt.Errorf("batch member %d: %w for %q", i, core.ErrNoHandler, m.Type)
		}
	}

	b := &core.Batch{
		ID:               core.NewJobID(),
		Name:             def.Name,
		Queue:            def.Queue,
		TotalJobs:        len(def.Members),
		PendingJobs:      len(def.Members),
		AllowFailures:    def.AllowFailures,
		FailureThreshold: def.FailureThreshold,
	}
	var err error
	if b.OnSuccess, err = queue.EncodeCallbacks(def.OnSuccess); err != nil {
		return nil, err
	}
	if b.OnFailure, err = queue.EncodeCallbacks(def.OnFailure); err != nil {
		return nil, err
	}
	if b.OnFinally, err = queue.EncodeCallbacks(def.OnFinally); err != nil {
		return nil, err
	}
	if err := o.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("batch: failed to create: %w", err)
	}

	descs := make([]queue.Descriptor, len(def.Members))
	for i, m := range def.Members {
		opts := make([]queue.Option, 0, len(def.Defaults)+len(m.Options)+3)
		opts = append(opts, queue.QueueOpt(target))
		opts = append(opts, def.Defaults...)
		opts = append(opts, m.Options...)
		opts = append(opts, queue.NoUnique(), queue.InBatch(b.ID))
		descs[i] = queue.Descriptor{Name: m.Type, Args: m.Args, Options: opts}
	}
	if _, err := o.queue.BulkSubmit(ctx, descs); err != nil {
		o.abandon(ctx, b)
		return nil, fmt.Errorf("batch: failed to dispatch members: %w", err)
	}

	o.logger.Debug("batch dispatched", "batch_id", b.ID, "jobs", b.TotalJobs)
	return b, nil
}

// abandon closes a batch whose members never made it into a queue.
func (o *Orchestrator) abandon(ctx context.Context, b *core.Batch) {
	if _, err := o.store.CancelBatch(ctx, b.ID); err != nil {
		o.logger.Warn("failed to cancel abandoned batch", "batch_id", b.ID, "error", err)
		return
	}
	if _, err := o.store.AddBatchCancelled(ctx, b.ID, int64(b.TotalJobs)); err != nil {
		o.logger.Warn("failed to close abandoned batch", "batch_id", b.ID, "error", err)
		return
	}
	if _, err := o.store.FinishBatch(ctx, b.ID); err != nil {
		o.logger.Warn("failed to finish abandoned batch", "batch_id", b.ID, "error", err)
	}
}

// Get returns a batch by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*core.Batch, error) {
	return o.store.GetBatch(ctx, id)
}

// Cancel cancels the batch and removes the members no worker has claimed
// yet. Failure callbacks are not submitted; finally callbacks run once the
// claimed members finish. It reports false if the batch was already
// cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	b, won, err := o.cancel(ctx, id)
	if err != nil || !won {
		return false, err
	}
	o.logger.Info("batch cancelled", "batch_id", id, "cancelled", b.CancelledJobs)
	o.settle(ctx, b)
	return true, nil
}

// cancel marks the batch cancelled once and removes its unreserved members
// from every backend.
func (o *Orchestrator) cancel(ctx context.Context, id string) (*core.Batch, bool, error) {
	won, err := o.store.CancelBatch(ctx, id)
	if err != nil || !won {
		if err == nil {
			_, err = o.store.GetBatch(ctx, id)
		}
		return nil, false, err
	}

	var removed int64
	for _, d := range o.queue.Drivers() {
		n, err := d.RemoveBatch(ctx, id)
		if err != nil {
			o.logger.Warn("failed to remove batch members", "batch_id", id, "backend", d.Name(), "error", err)
			continue
		}
		removed += n
	}
	b, err := o.store.AddBatchCancelled(ctx, id, removed)
	if err != nil {
		return nil, true, err
	}
	return b, true, nil
}

func (o *Orchestrator) onComplete(ctx context.Context, job *core.Job) {
	if job.BatchID == nil {
		return
	}
	b, err := o.store.RecordBatchResult(ctx, *job.BatchID, job.ID, true)
	if err != nil {
		o.logger.Error("failed to record batch result", "batch_id", *job.BatchID, "job_id", job.ID, "error", err)
		return
	}
	o.settle(ctx, b)
}

func (o *Orchestrator) onFail(ctx context.Context, job *core.Job, cause error) {
	if job.BatchID == nil {
		return
	}
	b, err := o.store.RecordBatchResult(ctx, *job.BatchID, job.ID, false)
	if err != nil {
		o.logger.Error("failed to record batch result", "batch_id", *job.BatchID, "job_id", job.ID, "error", err)
		return
	}

	if !b.Cancelled() && tripped(b) {
		cancelled, won, err := o.cancel(ctx, b.ID)
		if err != nil {
			o.logger.Error("failed to cancel batch", "batch_id", b.ID, "error", err)
			return
		}
		if won {
			o.logger.Warn("batch cancelled by member failure",
				"batch_id", b.ID,
				"job_id", job.ID,
				"failed", cancelled.FailedJobs,
				"cancelled", cancelled.CancelledJobs,
				"error", cause)
			o.submit(ctx, b, b.OnFailure)
			b = cancelled
		}
	}
	o.settle(ctx, b)
}

// tripped reports whether failures so far must cancel the batch.
func tripped(b *core.Batch) bool {
	if !b.AllowFailures {
		return b.FailedJobs > 0
	}
	return b.FailureThreshold > 0 && b.FailureRate() > b.FailureThreshold
}

// settle finishes the batch once nothing is pending and submits its
// completion callbacks exactly once.
func (o *Orchestrator) settle(ctx context.Context, b *core.Batch) {
	if b.PendingJobs > 0 || b.Finished() {
		return
	}
	won, err := o.store.FinishBatch(ctx, b.ID)
	if err != nil {
		o.logger.Error("failed to finish batch", "batch_id", b.ID, "error", err)
		return
	}
	if !won {
		return
	}

	if !b.Cancelled() {
		if b.FailedJobs == 0 {
			o.submit(ctx, b, b.OnSuccess)
		} else {
			o.submit(ctx, b, b.OnFailure)
		}
	}
	o.submit(ctx, b, b.OnFinally)

	o.logger.Info("batch finished",
		"batch_id", b.ID,
		"processed", b.ProcessedJobs,
		"failed", b.FailedJobs,
		"cancelled", b.CancelledJobs)
	o.queue.Emit(&core.BatchFinished{Batch: b, Timestamp: o.queue.Now()})
}

func (o *Orchestrator) submit(ctx context.Context, b *core.Batch, cbs []core.Callback) {
	if err := o.queue.SubmitCallbacks(ctx, cbs, b.Queue); err != nil {
		o.logger.Error("batch callbacks incomplete", "batch_id", b.ID, "error", err)
	}
}
