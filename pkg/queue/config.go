package queue

import (
	"fmt"
	"slices"
	"time"

	"github.com/jdziat/durable-queue/pkg/retry"
	"github.com/jdziat/durable-queue/pkg/security"
)

// RateLimit caps submissions to a queue at Max per sliding Window.
type RateLimit struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

// Enabled reports whether the limit applies.
func (r RateLimit) Enabled() bool {
	return r.Max > 0 && r.Window > 0
}

// QueueConfig holds the settings of one queue. Zero values mean "use the
// default".
type QueueConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Timeout is the per-execution limit when the job sets none.
	Timeout time.Duration `json:"timeout,omitempty"`
	// MemoryLimitMB stops a worker after a job left it above this size.
	MemoryLimitMB int       `json:"memory_limit_mb,omitempty"`
	RateLimit     RateLimit `json:"rate_limit"`
	// UniqueFor is the default uniqueness window of unique jobs.
	UniqueFor time.Duration `json:"unique_for,omitempty"`
	// Middleware names stages registered with Queue.RegisterMiddleware.
	Middleware []string `json:"middleware,omitempty"`
	// Backend names a driver registered with Queue.RegisterDriver.
	Backend string               `json:"backend,omitempty"`
	Backoff *retry.BackoffConfig `json:"backoff,omitempty"`
}

// Validate checks ranges and backoff settings.
func (c QueueConfig) Validate() error {
	if c.MaxAttempts < 0 || c.MaxAttempts > security.MaxAttempts {
		return fmt.Errorf("queue: max attempts %d out of range", c.MaxAttempts)
	}
	if c.Timeout < 0 || c.Timeout > security.MaxJobTimeout {
		return fmt.Errorf("queue: timeout %v out of range", c.Timeout)
	}
	if c.MemoryLimitMB < 0 || c.MemoryLimitMB > security.MaxMemoryMB {
		return fmt.Errorf("queue: memory limit %d out of range", c.MemoryLimitMB)
	}
	if c.RateLimit.Max < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("queue: negative rate limit")
	}
	if c.Backoff != nil {
		if err := c.Backoff.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Configure sets the configuration of queue, replacing any earlier one.
func (q *Queue) Configure(queue string, cfg QueueConfig) error {
	if err := security.ValidateQueueName(queue); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Middleware = slices.Clone(cfg.Middleware)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.configs[queue] = cfg
	return nil
}

// QueueConfig returns the configuration of queue, or the zero config.
func (q *Queue) QueueConfig(queue string) QueueConfig {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.configs[queue]
}

// ConfiguredQueues returns the names of configured queues, sorted.
func (q *Queue) ConfiguredQueues() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.configs))
	for name := range q.configs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// maxAttempts resolves the attempt budget: job option, then queue config,
// then DefaultMaxAttempts.
func (q *Queue) maxAttempts(opt int, cfg QueueConfig) int {
	switch {
	case opt > 0:
		return security.ClampAttempts(opt)
	case cfg.MaxAttempts > 0:
		return cfg.MaxAttempts
	default:
		return security.ClampAttempts(DefaultMaxAttempts)
	}
}
