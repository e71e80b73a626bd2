package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Job returns a live job by id from the backend of its queue or, failing
// that, from any registered backend.
func (q *Queue) Job(ctx context.Context, id string) (*core.Job, error) {
	for _, d := range q.Drivers() {
		job, err := d.Get(ctx, id)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		return job, err
	}
	return nil, core.ErrJobNotFound
}

// Stats returns pending, delayed, reserved and failed counts for queue.
func (q *Queue) Stats(ctx context.Context, queue string) (core.QueueStats, error) {
	if err := security.ValidateQueueName(queue); err != nil {
		return core.QueueStats{}, err
	}
	d, err := q.DriverFor(queue)
	if err != nil {
		return core.QueueStats{}, err
	}
	st, err := d.Stats(ctx, queue)
	if err != nil {
		return st, err
	}
	if d != core.Driver(q.storage) {
		if st.Failed, err = q.storage.CountFailed(ctx, queue); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Queues returns every queue known to a backend or configured, sorted.
func (q *Queue) Queues(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	for _, name := range q.ConfiguredQueues() {
		seen[name] = true
	}
	for _, d := range q.Drivers() {
		names, err := d.Queues(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			seen[name] = true
		}
	}
	all := make([]string, 0, len(seen))
	for name := range seen {
		all = append(all, name)
	}
	slices.Sort(all)
	return all, nil
}

// AllStats returns Stats for every known queue.
func (q *Queue) AllStats(ctx context.Context) ([]core.QueueStats, error) {
	names, err := q.Queues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.QueueStats, 0, len(names))
	for _, name := range names {
		st, err := q.Stats(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("queue: stats for %q: %w", name, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// ClearQueue deletes every live job of queue and returns how many.
func (q *Queue) ClearQueue(ctx context.Context, queue string) (int64, error) {
	if err := security.ValidateQueueName(queue); err != nil {
		return 0, err
	}
	d, err := q.DriverFor(queue)
	if err != nil {
		return 0, err
	}
	n, err := d.Clear(ctx, queue)
	if err == nil {
		q.logger.Info("queue cleared", "queue", queue, "count", n)
	}
	return n, err
}

// ListFailed lists failed jobs, most recent first.
func (q *Queue) ListFailed(ctx context.Context, filter core.FailedFilter) ([]*core.FailedJob, error) {
	if filter.Queue != "" {
		if err := security.ValidateQueueName(filter.Queue); err != nil {
			return nil, err
		}
	}
	return q.storage.ListFailed(ctx, filter)
}

// RetryFailed turns a failed job back into a live one with a fresh attempt
// budget, keeping its id and history, and removes the failed record.
// A batch already counted the member's failure, so the revived job runs
// detached from its batch.
func (q *Queue) RetryFailed(ctx context.Context, id string) (*core.Job, error) {
	failed, err := q.storage.GetFailed(ctx, id)
	if err != nil {
		return nil, err
	}

	job := &core.Job{
		ID:          failed.ID,
		Type:        failed.Type,
		Queue:       failed.Queue,
		Payload:     failed.Payload,
		MaxAttempts: max(q.maxAttempts(0, q.QueueConfig(failed.Queue)), security.ClampAttempts(failed.Attempts)),
		Priority:    failed.Priority,
		ChainID:     failed.ChainID,
		ChainStep:   failed.ChainStep,
		LastError:   failed.Exception,
		History:     failed.History,
	}
	if err := q.Push(ctx, job); err != nil {
		return nil, err
	}
	if _, err := q.storage.DeleteFailed(ctx, id); err != nil {
		return job, err
	}
	q.logger.Info("failed job retried", "job_id", id, "queue", job.Queue)
	return job, nil
}

// RetryAllFailed retries every failed job of queue, or of all queues when
// queue is empty.
func (q *Queue) RetryAllFailed(ctx context.Context, queue string) (int, error) {
	retried := 0
	for {
		batch, err := q.ListFailed(ctx, core.FailedFilter{Queue: queue, Limit: 100})
		if err != nil {
			return retried, err
		}
		if len(batch) == 0 {
			return retried, nil
		}
		for _, f := range batch {
			if _, err := q.RetryFailed(ctx, f.ID); err != nil {
				return retried, err
			}
			retried++
		}
	}
}

// DeleteFailed removes one failed job.
func (q *Queue) DeleteFailed(ctx context.Context, id string) (bool, error) {
	return q.storage.DeleteFailed(ctx, id)
}

// ClearFailed removes the failed jobs of queue, or all when queue is empty.
func (q *Queue) ClearFailed(ctx context.Context, queue string) (int64, error) {
	return q.storage.ClearFailed(ctx, queue)
}

// ReleaseStuck returns reservations older than olderThan to their queues on
// every backend. An empty queue means every queue.
func (q *Queue) ReleaseStuck(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	var total int64
	for _, d := range q.Drivers() {
		n, err := d.ReleaseStuck(ctx, queue, olderThan)
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		q.logger.Warn("released stuck reservations", "queue", queue, "count", total)
	}
	return total, nil
}

// PauseQueue pauses an entire queue.
func (q *Queue) PauseQueue(ctx context.Context, queueName string) error {
	if err := security.ValidateQueueName(queueName); err != nil {
		return err
	}
	if err := q.storage.PauseQueue(ctx, queueName); err != nil {
		return err
	}
	q.Emit(&core.QueuePaused{Queue: queueName, Timestamp: q.now()})
	return nil
}

// ResumeQueue resumes a paused queue.
func (q *Queue) ResumeQueue(ctx context.Context, queueName string) error {
	if err := security.ValidateQueueName(queueName); err != nil {
		return err
	}
	if err := q.storage.UnpauseQueue(ctx, queueName); err != nil {
		return err
	}
	q.Emit(&core.QueueResumed{Queue: queueName, Timestamp: q.now()})
	return nil
}

// IsQueuePaused checks if a queue is paused.
func (q *Queue) IsQueuePaused(ctx context.Context, queueName string) (bool, error) {
	if err := security.ValidateQueueName(queueName); err != nil {
		return false, err
	}
	return q.storage.IsQueuePaused(ctx, queueName)
}

// PausedQueues returns all paused queue names.
func (q *Queue) PausedQueues(ctx context.Context) ([]string, error) {
	return q.storage.GetPausedQueues(ctx)
}
