package recovery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
)

// Persister writes recovery snapshots from queue hooks.
type Persister struct {
	store      core.SnapshotStore
	logger     *slog.Logger
	onDispatch bool
	strategy   core.RecoveryStrategy
	perQueue   map[string]core.RecoveryStrategy
}

// NewPersister creates a Persister and registers its hooks on q.
func NewPersister(q *queue.Queue, opts ...PersistOption) *Persister {
	p := &Persister{
		store:    q.Storage(),
		logger:   q.Logger(),
		strategy: core.RecoverDelayed,
	}
	for _, opt := range opts {
		opt.applyPersister(p)
	}

	if p.onDispatch {
		q.OnJobQueued(p.onQueued)
	}
	q.OnJobComplete(p.onComplete)
	q.OnJobFail(p.onFail)
	return p
}

// Save snapshots job with status. cause may be nil.
func (p *Persister) Save(ctx context.Context, job *core.Job, status core.SnapshotStatus, cause error) error {
	payload, err := codec.Encode(job)
	if err != nil {
		return err
	}
	snap := &core.Snapshot{
		JobID:    job.ID,
		JobType:  job.Type,
		Queue:    job.Queue,
		Status:   status,
		Strategy: p.strategyFor(job.Queue),
		Payload:  payload,
	}
	if cause != nil {
		snap.Error = cause.Error()
	}
	return p.store.SaveSnapshot(ctx, snap)
}

func (p *Persister) strategyFor(queue string) core.RecoveryStrategy {
	if s, ok := p.perQueue[queue]; ok {
		return s
	}
	return p.strategy
}

func (p *Persister) onQueued(ctx context.Context, job *core.Job) {
	if err := p.Save(ctx, job, core.SnapshotPending, nil); err != nil {
		p.logger.Error("failed to snapshot queued job", "job_id", job.ID, "error", err)
	}
}

func (p *Persister) onFail(ctx context.Context, job *core.Job, cause error) {
	if err := p.Save(ctx, job, core.SnapshotFailed, cause); err != nil {
		p.logger.Error("failed to snapshot failed job", "job_id", job.ID, "error", err)
	}
}

func (p *Persister) onComplete(ctx context.Context, job *core.Job) {
	err := p.store.MarkSnapshot(ctx, job.ID, core.SnapshotCompleted, "")
	if err != nil && !errors.Is(err, core.ErrSnapshotMissing) {
		p.logger.Warn("failed to mark snapshot completed", "job_id", job.ID, "error", err)
	}
}
