package core

import (
	"context"
	"time"
)

// Driver is a durable live-queue backend.
//
// Pop must select the highest-priority, earliest-available unreserved job
// and reserve it in a single atomic step: concurrent pops never return the
// same job. Only the reservation holder may Release or Delete a job.
type Driver interface {
	// Name identifies the backend; it is stored on every job it holds.
	Name() string

	Push(ctx context.Context, job *Job) error
	PushBatch(ctx context.Context, jobs []*Job) error
	Pop(ctx context.Context, queue string, owner string) (*Job, error)
	// Release returns a reserved job to the pool. A non-nil attempt is
	// appended to the history; a nil attempt means the job never ran and
	// the attempt taken by Pop is given back.
	Release(ctx context.Context, jobID string, owner string, availableAt time.Time, attempt *AttemptRecord) error
	Delete(ctx context.Context, jobID string, owner string) error

	// Remove deletes an unreserved job. It reports false if the job is
	// reserved or gone.
	Remove(ctx context.Context, jobID string) (bool, error)
	// RemoveBatch deletes the unreserved members of a batch.
	RemoveBatch(ctx context.Context, batchID string) (int64, error)

	Get(ctx context.Context, jobID string) (*Job, error)
	Size(ctx context.Context, queue string) (int64, error)
	Stats(ctx context.Context, queue string) (QueueStats, error)
	Queues(ctx context.Context) ([]string, error)
	Clear(ctx context.Context, queue string) (int64, error)

	// ReleaseStuck returns reservations older than olderThan to the pool.
	// An empty queue means every queue.
	ReleaseStuck(ctx context.Context, queue string, olderThan time.Duration) (int64, error)
}

// Burier is implemented by drivers that can atomically move a reserved job
// into the failed store.
type Burier interface {
	Bury(ctx context.Context, jobID string, owner string, failed *FailedJob) error
}

// FailedFilter narrows failed job listings.
type FailedFilter struct {
	Queue  string
	Limit  int
	Offset int
}

// FailedStore persists terminal failures.
type FailedStore interface {
	SaveFailed(ctx context.Context, failed *FailedJob) error
	GetFailed(ctx context.Context, id string) (*FailedJob, error)
	ListFailed(ctx context.Context, filter FailedFilter) ([]*FailedJob, error)
	CountFailed(ctx context.Context, queue string) (int64, error)
	DeleteFailed(ctx context.Context, id string) (bool, error)
	ClearFailed(ctx context.Context, queue string) (int64, error)
	PruneFailed(ctx context.Context, before time.Time) (int64, error)
}

// ChainStore persists chain state. Updates are compare-and-set so that
// concurrent workers never move a chain backwards.
type ChainStore interface {
	CreateChain(ctx context.Context, chain *Chain) error
	GetChain(ctx context.Context, id string) (*Chain, error)
	// AdvanceChain moves current_step from -> from+1 and records the job
	// dispatched for it. Reports false if another worker already did.
	AdvanceChain(ctx context.Context, id string, from int, jobID string) (bool, error)
	// TransitionChain sets status to `to` if the chain is currently in one
	// of `from`.
	TransitionChain(ctx context.Context, id string, from []ChainStatus, to ChainStatus, lastError string) (bool, error)
	SetChainJob(ctx context.Context, id string, jobID string) error
}

// BatchStore persists batch counters. All counter updates are performed in
// the store, never as read-modify-write in a worker.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	// RecordBatchResult decrements pending and increments processed or
	// failed, returning the updated batch.
	RecordBatchResult(ctx context.Context, id string, jobID string, success bool) (*Batch, error)
	// CancelBatch marks the batch cancelled. Reports false if it already was.
	CancelBatch(ctx context.Context, id string) (bool, error)
	// AddBatchCancelled moves removed members from pending to cancelled.
	AddBatchCancelled(ctx context.Context, id string, removed int64) (*Batch, error)
	// FinishBatch sets finished_at once. Reports false if already finished.
	FinishBatch(ctx context.Context, id string) (bool, error)
}

// UniqueStore holds identity locks for unique jobs.
type UniqueStore interface {
	// AcquireUnique takes key for jobID until ttl elapses. If an unexpired
	// lock exists, the holder's job id is returned with acquired == false.
	AcquireUnique(ctx context.Context, key string, jobID string, ttl time.Duration) (holder string, acquired bool, err error)
	ReleaseUnique(ctx context.Context, key string, jobID string) error
}

// RateStore implements sliding-window rate limiting.
type RateStore interface {
	// HitRate records a hit for key unless limit hits already happened in
	// the trailing window. When denied, retryAfter is the wait until the
	// oldest hit leaves the window.
	HitRate(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// RecoveryQuery selects snapshots eligible for recovery.
type RecoveryQuery struct {
	MaxAttempts   int
	DelayedBefore time.Time
	Limit         int
}

// SnapshotStore persists recovery snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, jobID string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, status SnapshotStatus, limit int) ([]*Snapshot, error)
	ListRecoverable(ctx context.Context, q RecoveryQuery) ([]*Snapshot, error)
	// ClaimSnapshot moves a failed snapshot to recovering, guarded by its
	// current attempt count. Only one concurrent caller wins.
	ClaimSnapshot(ctx context.Context, jobID string, attempts int, owner string) (bool, error)
	MarkSnapshot(ctx context.Context, jobID string, status SnapshotStatus, errMsg string) error
	DeleteSnapshot(ctx context.Context, jobID string) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// QueueStateStore persists operator pause flags per queue.
type QueueStateStore interface {
	PauseQueue(ctx context.Context, queue string) error
	UnpauseQueue(ctx context.Context, queue string) error
	IsQueuePaused(ctx context.Context, queue string) (bool, error)
	GetPausedQueues(ctx context.Context) ([]string, error)
}

// Storage is the coordination store shared by every worker. It is also a
// Driver, so a single database can serve as both.
type Storage interface {
	Driver
	FailedStore
	ChainStore
	BatchStore
	UniqueStore
	RateStore
	SnapshotStore
	QueueStateStore

	// Migrate creates the necessary tables.
	Migrate(ctx context.Context) error
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
