package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/middleware"
	"github.com/jdziat/durable-queue/pkg/retry"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Defaults applied by NewWorker.
const (
	DefaultPollSleep = 3 * time.Second
	DefaultIdleDelay = time.Second
	DefaultTimeout   = 60 * time.Second
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*Config)
}

type workerOptionFunc func(*Config)

func (f workerOptionFunc) ApplyWorker(c *Config) { f(c) }

// Config holds worker configuration. Zero limits are disabled.
type Config struct {
	// Queues are polled in order; earlier queues win.
	Queues   []string
	WorkerID string
	// PollSleep is the wait between polls while the worker is paused.
	PollSleep time.Duration
	// IdleDelay is the wait after a poll found nothing.
	IdleDelay time.Duration
	MaxJobs   int
	MaxTime   time.Duration
	MemoryMB  int
	// Timeout applies to jobs whose job and queue set none.
	Timeout time.Duration
	// Rest is the pause between two jobs.
	Rest time.Duration
	// Force polls queues even while they are paused in the store.
	Force bool
	// Monitor records memory on completion events.
	Monitor bool

	// StoreRetry wraps every store call of the loop.
	StoreRetry retry.DoConfig

	retry  *retry.Manager
	logger *slog.Logger
	memory middleware.MemoryReader
}

// DefaultConfig returns the configuration NewWorker starts from.
func DefaultConfig() Config {
	storeRetry := retry.DefaultDoConfig()
	storeRetry.Retryable = core.IsInfrastructure
	return Config{
		Queues:     []string{core.DefaultQueue},
		PollSleep:  DefaultPollSleep,
		IdleDelay:  DefaultIdleDelay,
		Timeout:    DefaultTimeout,
		StoreRetry: storeRetry,
	}
}

// Queues replaces the polled queues, highest priority first.
func Queues(names ...string) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		if len(names) > 0 {
			c.Queues = append([]string(nil), names...)
		}
	})
}

// WithID sets the reservation owner id. Default: a random UUID.
func WithID(id string) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.WorkerID = id
	})
}

// PollSleep sets the wait between polls while paused.
func PollSleep(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.PollSleep = d
	})
}

// IdleDelay sets the wait after an empty poll.
func IdleDelay(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.IdleDelay = d
	})
}

// MaxJobs stops the worker after n jobs.
func MaxJobs(n int) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.MaxJobs = max(n, 0)
	})
}

// MaxTime stops the worker once it has run for d.
func MaxTime(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.MaxTime = d
	})
}

// MemoryLimit stops the worker once the process uses more than mb
// megabytes. Values are clamped to [0, MaxMemoryMB].
func MemoryLimit(mb int) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.MemoryMB = security.ClampMemoryMB(mb)
	})
}

// Timeout sets the fallback job timeout. Values are clamped to
// [0, MaxJobTimeout].
func Timeout(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.Timeout = security.ClampTimeout(d)
	})
}

// Rest sets the pause between two jobs.
func Rest(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.Rest = d
	})
}

// Force ignores persisted queue pauses.
func Force(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.Force = enabled
	})
}

// Monitor enables memory sampling for completion events.
func Monitor(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.Monitor = enabled
	})
}

// StoreRetry replaces the backoff used for store calls.
func StoreRetry(cfg retry.DoConfig) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.StoreRetry = cfg
	})
}

// WithRetryManager sets the manager that classifies plain handler errors.
func WithRetryManager(m *retry.Manager) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.retry = m
	})
}

// WithLogger sets the logger. Default: the queue's logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.logger = logger
	})
}

// WithMemoryReader replaces how process memory is read.
func WithMemoryReader(read middleware.MemoryReader) WorkerOption {
	return workerOptionFunc(func(c *Config) {
		c.memory = read
	})
}
