package jobs

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/worker"
)

// QueueOpt routes a job to a named queue.
func QueueOpt(name string) Option { return queue.QueueOpt(name) }

// Priority sets the job priority; higher runs first.
func Priority(p int) Option { return queue.Priority(p) }

// MaxAttempts sets how many times a job may run.
func MaxAttempts(n int) Option { return queue.MaxAttempts(n) }

// Delay makes the job available after d.
func Delay(d time.Duration) Option { return queue.Delay(d) }

// At makes the job available at t.
func At(t time.Time) Option { return queue.At(t) }

// Timeout bounds a single execution of the job.
func Timeout(d time.Duration) Option { return queue.Timeout(d) }

// Unique deduplicates on the job type, queue and arguments.
func Unique() Option { return queue.Unique() }

// UniqueKey deduplicates on key.
func UniqueKey(key string) Option { return queue.UniqueKey(key) }

// UniqueFor sets how long a uniqueness lock is held at most.
func UniqueFor(d time.Duration) Option { return queue.UniqueFor(d) }

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) ManagerOption { return queue.WithLogger(l) }

// Queues sets the queues a worker polls, highest priority first.
func Queues(names ...string) WorkerOption { return worker.Queues(names...) }

// WorkerID sets the reservation owner id of a worker.
func WorkerID(id string) WorkerOption { return worker.WithID(id) }

// MaxJobs stops a worker after n jobs.
func MaxJobs(n int) WorkerOption { return worker.MaxJobs(n) }

// MaxTime stops a worker after d.
func MaxTime(d time.Duration) WorkerOption { return worker.MaxTime(d) }

// MemoryLimit stops a worker once process memory exceeds mb.
func MemoryLimit(mb int) WorkerOption { return worker.MemoryLimit(mb) }

// IdleDelay sets how long a worker sleeps after finding no job.
func IdleDelay(d time.Duration) WorkerOption { return worker.IdleDelay(d) }

// WorkerTimeout sets the default per-job timeout of a worker.
func WorkerTimeout(d time.Duration) WorkerOption { return worker.Timeout(d) }
