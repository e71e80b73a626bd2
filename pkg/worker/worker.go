package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/middleware"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/retry"
)

// Worker processes jobs from the queue, one at a time.
type Worker struct {
	queue  *queue.Queue
	config Config
	retry  *retry.Manager
	logger *slog.Logger
	memory middleware.MemoryReader

	paused     atomic.Bool
	overMemory atomic.Bool
	processed  atomic.Int64
	started    time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWorker creates a new worker for the given queue.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if config.WorkerID == "" {
		config.WorkerID = uuid.New().String()
	}

	w := &Worker{
		queue:  q,
		config: config,
		retry:  config.retry,
		logger: config.logger,
		memory: config.memory,
		stop:   make(chan struct{}),
	}
	if w.retry == nil {
		w.retry = retry.NewManager(retry.DefaultConfig())
	}
	if w.logger == nil {
		w.logger = q.Logger()
	}
	if w.memory == nil {
		w.memory = middleware.ReadMemory
	}
	return w
}

// ID returns the reservation owner id of the worker.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.config
}

// Processed returns how many jobs the worker has claimed.
func (w *Worker) Processed() int {
	return int(w.processed.Load())
}

// Stop asks Run to return once the current job has finished.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Pause stops polling until Resume. A running job is not interrupted.
func (w *Worker) Pause() {
	if !w.paused.Swap(true) {
		w.logger.Info("worker paused", "worker_id", w.config.WorkerID)
	}
}

// Resume restarts polling after Pause.
func (w *Worker) Resume() {
	if w.paused.Swap(false) {
		w.logger.Info("worker resumed", "worker_id", w.config.WorkerID)
	}
}

// Paused reports whether polling is paused.
func (w *Worker) Paused() bool {
	return w.paused.Load()
}

// Run processes jobs until ctx is cancelled, Stop is called or a limit is
// reached. A limit or Stop returns nil; cancellation returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	w.started = time.Now()
	w.logger.Info("worker started",
		"worker_id", w.config.WorkerID,
		"queues", w.config.Queues)

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if reason := w.stopReason(); reason != "" {
			w.logger.Info("worker stopping",
				"worker_id", w.config.WorkerID,
				"reason", reason,
				"processed", w.Processed())
			return nil
		}

		if w.paused.Load() {
			w.sleep(ctx, w.config.PollSleep)
			continue
		}

		ran, err := w.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			failures++
			w.logger.Error("worker iteration failed",
				"worker_id", w.config.WorkerID,
				"failures", failures,
				"error", err)
			w.sleep(ctx, max(w.config.IdleDelay, w.config.StoreRetry.Backoff.Delay(failures)))
		case !ran:
			failures = 0
			w.sleep(ctx, w.config.IdleDelay)
		default:
			failures = 0
			if w.config.Rest > 0 {
				w.sleep(ctx, w.config.Rest)
			}
		}
	}
}

func (w *Worker) stopReason() string {
	select {
	case <-w.stop:
		return "stopped"
	default:
	}
	if w.config.MaxJobs > 0 && w.Processed() >= w.config.MaxJobs {
		return "max jobs reached"
	}
	if w.config.MaxTime > 0 && !w.started.IsZero() && time.Since(w.started) >= w.config.MaxTime {
		return "max time reached"
	}
	if w.overMemory.Load() {
		return "memory limit exceeded"
	}
	if w.config.MemoryMB > 0 && middleware.BytesToMB(w.memory()) > float64(w.config.MemoryMB) {
		return "memory limit exceeded"
	}
	return ""
}

// sleep waits for d, returning early on cancellation or Stop.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-timer.C:
	}
}

// RunOnce polls the configured queues in order and processes at most one
// job. It reports whether a job was claimed. Errors are store failures;
// job failures are recorded on the job, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	for _, name := range w.config.Queues {
		if !w.config.Force {
			paused, err := w.queue.IsQueuePaused(ctx, name)
			if err != nil {
				return false, err
			}
			if paused {
				continue
			}
		}

		driver, err := w.queue.DriverFor(name)
		if err != nil {
			return false, err
		}

		var job *core.Job
		err = retry.Do(ctx, w.config.StoreRetry, func(ctx context.Context) error {
			var popErr error
			job, popErr = driver.Pop(ctx, name, w.config.WorkerID)
			return popErr
		})
		if err != nil {
			return false, err
		}
		if job == nil {
			continue
		}

		w.processed.Add(1)
		return true, w.process(ctx, driver, job)
	}
	return false, nil
}

// storeCall retries op on infrastructure failures. It runs even when ctx
// was cancelled during the job so results are never lost to shutdown.
func (w *Worker) storeCall(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(context.WithoutCancel(ctx), w.config.StoreRetry, op)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
