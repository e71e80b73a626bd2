package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
)

// ErrNotRecoverable is returned by RecoverJob for a snapshot that is not in
// the failed state or whose job can no longer be rebuilt.
var ErrNotRecoverable = errors.New("recovery: snapshot is not recoverable")

// Report summarises one recovery pass.
type Report struct {
	Released        int64
	Recovered       int
	Skipped         int
	Failed          int
	PrunedSnapshots int64
	PrunedFailed    int64
}

// Recoverer re-enqueues jobs from failed snapshots on a cron schedule.
type Recoverer struct {
	queue  *queue.Queue
	store  core.Storage
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRecoverer creates a Recoverer for q.
func NewRecoverer(q *queue.Queue, opts ...Option) *Recoverer {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&config)
	}
	if config.OwnerID == "" {
		config.OwnerID = "recoverer-" + uuid.New().String()
	}
	r := &Recoverer{
		queue:  q,
		store:  q.Storage(),
		config: config,
		logger: config.logger,
	}
	if r.logger == nil {
		r.logger = q.Logger()
	}
	return r
}

// Config returns the effective configuration.
func (r *Recoverer) Config() Config {
	return r.config
}

// Start schedules a pass every Interval until Stop. Passes never overlap;
// ctx is handed to each of them.
func (r *Recoverer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("recovery: already started")
	}

	log := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	spec := "@every " + r.config.Interval.String()
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("recovery pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("recovery: invalid interval %v: %w", r.config.Interval, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("recovery started", "interval", r.config.Interval, "owner", r.config.OwnerID)
	return nil
}

// Stop unschedules passes and waits for a running one to finish.
func (r *Recoverer) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("recovery stopped")
}

// RunOnce performs one pass: release stuck reservations, re-enqueue
// eligible snapshots, then prune old records.
func (r *Recoverer) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	now := r.queue.Now()

	if r.config.StuckAfter > 0 {
		n, err := r.queue.ReleaseStuck(ctx, "", r.config.StuckAfter)
		if err != nil {
			return rep, err
		}
		rep.Released = n
	}

	snaps, err := r.store.ListRecoverable(ctx, core.RecoveryQuery{
		MaxAttempts:   r.config.MaxRecoveryAttempts,
		DelayedBefore: now.Add(-r.config.RecoveryDelay),
		Limit:         r.config.BatchSize,
	})
	if err != nil {
		return rep, err
	}
	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ok, err := r.recover(ctx, snap)
		switch {
		case err != nil:
			rep.Failed++
			r.logger.Warn("failed to recover job", "job_id", snap.JobID, "error", err)
		case ok:
			rep.Recovered++
		default:
			rep.Skipped++
		}
	}

	if r.config.SnapshotRetention > 0 {
		if rep.PrunedSnapshots, err = r.store.PruneSnapshots(ctx, now.Add(-r.config.SnapshotRetention)); err != nil {
			return rep, err
		}
	}
	if r.config.FailedRetention > 0 {
		if rep.PrunedFailed, err = r.store.PruneFailed(ctx, now.Add(-r.config.FailedRetention)); err != nil {
			return rep, err
		}
	}

	if rep != (Report{}) {
		r.logger.Info("recovery pass finished",
			"released", rep.Released,
			"recovered", rep.Recovered,
			"skipped", rep.Skipped,
			"failed", rep.Failed,
			"pruned_snapshots", rep.PrunedSnapshots,
			"pruned_failed", rep.PrunedFailed)
	}
	return rep, nil
}

// RecoverJob re-enqueues the failed snapshot of one job, whatever its
// strategy or recovery count.
func (r *Recoverer) RecoverJob(ctx context.Context, jobID string) error {
	snap, err := r.store.GetSnapshot(ctx, jobID)
	if err != nil {
		return err
	}
	if snap.Status != core.SnapshotFailed {
		return fmt.Errorf("%w: status %s", ErrNotRecoverable, snap.Status)
	}
	ok, err := r.recover(ctx, snap)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRecoverable
	}
	return nil
}

// recover rebuilds and re-enqueues the job of snap. It reports false when
// the snapshot was skipped: its job cannot be rebuilt here or another
// recoverer claimed it first.
func (r *Recoverer) recover(ctx context.Context, snap *core.Snapshot) (bool, error) {
	job, err := r.rebuild(snap)
	if err != nil {
		r.logger.Debug("skipping snapshot", "job_id", snap.JobID, "reason", err)
		return false, nil
	}

	won, err := r.store.ClaimSnapshot(ctx, snap.JobID, snap.RecoveryAttempts, r.config.OwnerID)
	if err != nil || !won {
		return false, err
	}
	attempt := snap.RecoveryAttempts + 1

	if _, err := r.queue.Job(ctx, job.ID); err == nil {
		// Already live again, usually through a manual retry.
		return true, r.finish(ctx, job, attempt)
	} else if !errors.Is(err, core.ErrJobNotFound) {
		r.unclaim(ctx, snap.JobID, err)
		return false, err
	}

	if err := r.queue.Push(ctx, job); err != nil {
		r.unclaim(ctx, snap.JobID, err)
		return false, err
	}
	return true, r.finish(ctx, job, attempt)
}

// rebuild decodes the snapshot into a fresh, unreserved job.
func (r *Recoverer) rebuild(snap *core.Snapshot) (*core.Job, error) {
	job, err := codec.Decode(snap.Payload)
	if err != nil {
		return nil, err
	}
	h, ok := r.queue.Handler(job.Type)
	if !ok {
		return nil, fmt.Errorf("%w for %q", core.ErrNoHandler, job.Type)
	}
	if h.ArgsType != nil && !h.WantsJob {
		if _, err := h.Decode(job.Payload); err != nil {
			return nil, err
		}
	}

	job.Attempts = 0
	job.Reserved = false
	job.ReservedBy = ""
	job.ReservedAt = nil
	job.AvailableAt = r.queue.Now()
	// The batch already counted this member as failed.
	job.BatchID = nil
	return job, nil
}

func (r *Recoverer) finish(ctx context.Context, job *core.Job, attempt int) error {
	if err := r.store.MarkSnapshot(ctx, job.ID, core.SnapshotRecovered, ""); err != nil {
		return err
	}
	if _, err := r.store.DeleteFailed(ctx, job.ID); err != nil {
		r.logger.Warn("failed to remove recovered job from failed store", "job_id", job.ID, "error", err)
	}
	r.logger.Info("job recovered", "job_id", job.ID, "queue", job.Queue, "recovery_attempt", attempt)
	r.queue.Emit(&core.JobRecovered{
		JobID:     job.ID,
		Queue:     job.Queue,
		Attempt:   attempt,
		Timestamp: r.queue.Now(),
	})
	return nil
}

// unclaim returns a claimed snapshot to failed so a later pass retries it.
func (r *Recoverer) unclaim(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.MarkSnapshot(ctx, jobID, core.SnapshotFailed, cause.Error()); err != nil {
		r.logger.Error("failed to release snapshot claim", "job_id", jobID, "error", err)
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
