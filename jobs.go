// Package jobs is a durable background job queue.
//
// It re-exports the public types of the pkg/ packages so most programs need
// a single import.
//
// Basic usage:
//
//	db, _ := jobs.OpenDB("sqlite", "jobs.db")
//	store := jobs.NewGormStorage(db)
//	_ = store.Migrate(ctx)
//	q := jobs.New(store)
//
//	q.Register("send-email", func(ctx context.Context, to string) error {
//	    return sendEmail(to)
//	})
//	id, _ := q.Submit(ctx, "send-email", "user@example.com", jobs.QueueOpt("mail"))
//
//	w := jobs.NewWorker(q, jobs.Queues("mail", "default"))
//	_ = w.Run(ctx)
package jobs

import (
	"context"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/jobctx"
	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/middleware"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/recovery"
	"github.com/jdziat/durable-queue/pkg/worker"
)

type (
	// Job is one unit of work.
	Job = core.Job
	// FailedJob is a job that exhausted its attempts.
	FailedJob = core.FailedJob
	// AttemptRecord describes one failed attempt of a job.
	AttemptRecord = core.AttemptRecord
	// JobState is where a job is in its lifecycle.
	JobState = core.JobState
	// QueueStats counts the jobs of one queue.
	QueueStats = core.QueueStats
	// FailedFilter selects failed jobs to list.
	FailedFilter = core.FailedFilter

	// Storage is the relational persistence layer.
	Storage = core.Storage
	// Driver is a backend that holds live jobs.
	Driver = core.Driver

	// Event is anything published on the queue's event stream.
	Event            = core.Event
	JobQueued        = core.JobQueued
	JobStarted       = core.JobStarted
	JobCompleted     = core.JobCompleted
	JobFailed        = core.JobFailed
	JobRetrying      = core.JobRetrying
	JobRecovered     = core.JobRecovered
	ChainFinished    = core.ChainFinished
	BatchFinished    = core.BatchFinished
	QueuePausedEvent = core.QueuePaused
	QueueResumed     = core.QueueResumed

	// Queue registers handlers and submits jobs.
	Queue = queue.Queue
	// QueueConfig holds per-queue settings.
	QueueConfig = queue.QueueConfig
	// RateLimit caps how fast jobs are submitted to one queue. Per job
	// type throttling is middleware.Throttle.
	RateLimit = queue.RateLimit
	// Descriptor describes one job of a bulk submission.
	Descriptor = queue.Descriptor
	// Option configures a submission or a registration.
	Option = queue.Option
	// ManagerOption configures a Queue.
	ManagerOption = queue.ManagerOption

	// Worker claims and runs jobs.
	Worker = worker.Worker
	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption
	// WorkerConfig is the effective worker configuration.
	WorkerConfig = worker.Config

	// Middleware wraps job execution.
	Middleware = middleware.Middleware
	// Handler runs one job and reports its outcome.
	Handler = middleware.Handler
	// Outcome is the classified result of one execution.
	Outcome = core.Outcome

	// Persister snapshots failed jobs for recovery.
	Persister = recovery.Persister
	// Recoverer re-enqueues failed jobs from their snapshots.
	Recoverer = recovery.Recoverer
	// RecoveryReport summarises one recovery pass.
	RecoveryReport = recovery.Report
	// RecoveryStrategy decides when a failed job may be recovered.
	RecoveryStrategy = core.RecoveryStrategy

	// Collector aggregates job events into per-minute metrics.
	Collector = metrics.Collector
	// Thresholds bound a healthy queue.
	Thresholds = metrics.Thresholds
	// HealthReport is the result of a health check.
	HealthReport = metrics.HealthReport
)

const (
	DefaultQueue = core.DefaultQueue

	StateAvailable = core.StateAvailable
	StateDelayed   = core.StateDelayed
	StateReserved  = core.StateReserved
	StateFailed    = core.StateFailed
	StateDeleted   = core.StateDeleted

	RecoverImmediate = core.RecoverImmediate
	RecoverDelayed   = core.RecoverDelayed
	RecoverManual    = core.RecoverManual
)

// New creates a queue on the given storage.
func New(s Storage, opts ...ManagerOption) *Queue {
	return queue.New(s, opts...)
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, opts...)
}

// NewPersister starts snapshotting the failed jobs of q.
func NewPersister(q *Queue, opts ...recovery.PersistOption) *Persister {
	return recovery.NewPersister(q, opts...)
}

// NewRecoverer creates a recovery loop for q.
func NewRecoverer(q *Queue, opts ...recovery.Option) *Recoverer {
	return recovery.NewRecoverer(q, opts...)
}

// NewCollector creates a metrics collector for q. stats may be nil.
func NewCollector(q *Queue, stats metrics.StatsStorage, opts ...metrics.Option) *Collector {
	return metrics.NewCollector(q, stats, opts...)
}

// CheckHealth checks the storage of q and every queue against t.
func CheckHealth(ctx context.Context, q *Queue, t Thresholds) HealthReport {
	return metrics.CheckHealth(ctx, q, t)
}

// NoRetry marks err as permanent: the job fails without another attempt.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter asks for the next attempt after d instead of the backoff delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// JobFromContext returns the running job, or nil outside a handler.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the running job's id, or "" outside a handler.
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// AttemptFromContext returns the running job's attempt number.
func AttemptFromContext(ctx context.Context) int {
	return jobctx.AttemptFromContext(ctx)
}

// SubmitFromJob submits a follow-up job from inside a handler.
func SubmitFromJob(ctx context.Context, name string, args any) (string, error) {
	return jobctx.Submit(ctx, name, args)
}
