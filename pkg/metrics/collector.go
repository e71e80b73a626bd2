package metrics

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
)

// Counters aggregates the events of one queue.
type Counters struct {
	Queued    int64
	Started   int64
	Completed int64
	Failed    int64
	Retried   int64
	Recovered int64

	// TotalDuration and MaxDuration cover executions that finished,
	// whatever their outcome.
	TotalDuration time.Duration
	MaxDuration   time.Duration
	PeakMemoryMB  float64
}

// AvgDuration returns the mean execution time of finished jobs.
func (c Counters) AvgDuration() time.Duration {
	n := c.Completed + c.Failed + c.Retried
	if n == 0 {
		return 0
	}
	return c.TotalDuration / time.Duration(n)
}

func (c Counters) empty() bool {
	return c == Counters{}
}

func (c *Counters) observe(d time.Duration) {
	c.TotalDuration += d
	c.MaxDuration = max(c.MaxDuration, d)
}

// Collector subscribes to queue events and periodically persists them with
// a snapshot of queue depth.
type Collector struct {
	queue      *queue.Queue
	stats      StatsStorage
	retention  time.Duration
	interval   time.Duration
	thresholds Thresholds
	logger     *slog.Logger

	mu     sync.Mutex
	window map[string]*Counters
	totals map[string]*Counters

	// ready is closed once the collector has subscribed to events.
	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures the Collector.
type Option interface {
	apply(*Collector)
}

type optionFunc func(*Collector)

func (f optionFunc) apply(c *Collector) { f(c) }

// WithRetention sets how long stats rows are kept. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return optionFunc(func(c *Collector) {
		c.retention = d
	})
}

// WithFlushInterval sets how often counters are persisted.
func WithFlushInterval(d time.Duration) Option {
	return optionFunc(func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	})
}

// WithThresholds sets the limits Health checks against.
func WithThresholds(t Thresholds) Option {
	return optionFunc(func(c *Collector) {
		c.thresholds = t
	})
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *Collector) {
		c.logger = logger
	})
}

// NewCollector creates a Collector. stats may be nil, in which case
// counters are kept in memory only.
func NewCollector(q *queue.Queue, stats StatsStorage, opts ...Option) *Collector {
	c := &Collector{
		queue:     q,
		stats:     stats,
		retention: 7 * 24 * time.Hour,
		interval:  time.Minute,
		window:    make(map[string]*Counters),
		totals:    make(map[string]*Counters),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if c.logger == nil {
		c.logger = q.Logger()
	}
	return c
}

// WaitReady blocks until the collector has subscribed to events.
func (c *Collector) WaitReady() {
	<-c.ready
}

// Start consumes events and flushes on every interval.
// Blocks until ctx is cancelled, then flushes once more.
func (c *Collector) Start(ctx context.Context) {
	events := c.queue.Events()
	defer c.queue.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			c.flushAndLog(flushCtx)
			cancel()
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(e)
		case <-ticker.C:
			c.flushAndLog(ctx)
			c.prune(ctx)
		}
	}
}

func (c *Collector) handleEvent(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := e.(type) {
	case *core.JobQueued:
		c.each(ev.Job.Queue, func(k *Counters) { k.Queued++ })
	case *core.JobStarted:
		c.each(ev.Job.Queue, func(k *Counters) { k.Started++ })
	case *core.JobCompleted:
		c.each(ev.Job.Queue, func(k *Counters) {
			k.Completed++
			k.observe(ev.Duration)
			k.PeakMemoryMB = max(k.PeakMemoryMB, ev.MemoryMB)
		})
	case *core.JobFailed:
		c.each(ev.Job.Queue, func(k *Counters) {
			k.Failed++
			k.observe(ev.Duration)
		})
	case *core.JobRetrying:
		c.each(ev.Job.Queue, func(k *Counters) {
			k.Retried++
			k.observe(ev.Duration)
		})
	case *core.JobRecovered:
		c.each(ev.Queue, func(k *Counters) { k.Recovered++ })
	}
}

// each applies fn to the window and lifetime counters of queue.
func (c *Collector) each(queue string, fn func(*Counters)) {
	for _, m := range []map[string]*Counters{c.window, c.totals} {
		k, ok := m[queue]
		if !ok {
			k = &Counters{}
			m[queue] = k
		}
		fn(k)
	}
}

// Snapshot returns the counters per queue since the collector started.
func (c *Collector) Snapshot() map[string]Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Counters, len(c.totals))
	for name, k := range c.totals {
		out[name] = *k
	}
	return out
}

// Flush writes the counters accumulated since the last flush and the
// current queue depth to the stats storage. Counters that could not be
// written are kept for the next flush.
func (c *Collector) Flush(ctx context.Context) error {
	if c.stats == nil {
		return nil
	}
	c.mu.Lock()
	batch := c.window
	c.window = make(map[string]*Counters)
	c.mu.Unlock()

	ts := c.queue.Now().Truncate(time.Minute)
	var errs []error
	unwritten := make(map[string]*Counters)
	for name, k := range batch {
		if k.empty() {
			continue
		}
		if err := c.stats.AddCounters(ctx, name, ts, *k); err != nil {
			errs = append(errs, err)
			unwritten[name] = k
		}
	}
	if len(unwritten) > 0 {
		c.mu.Lock()
		for name, k := range unwritten {
			c.merge(name, k)
		}
		c.mu.Unlock()
	}

	depth, err := c.queue.AllStats(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, st := range depth {
		if err := c.stats.SnapshotQueueDepth(ctx, st.Queue, ts, st.Pending, st.Delayed, st.Reserved); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Collector) merge(name string, k *Counters) {
	cur, ok := c.window[name]
	if !ok {
		c.window[name] = k
		return
	}
	cur.Queued += k.Queued
	cur.Started += k.Started
	cur.Completed += k.Completed
	cur.Failed += k.Failed
	cur.Retried += k.Retried
	cur.Recovered += k.Recovered
	cur.TotalDuration += k.TotalDuration
	cur.MaxDuration = max(cur.MaxDuration, k.MaxDuration)
	cur.PeakMemoryMB = max(cur.PeakMemoryMB, k.PeakMemoryMB)
}

func (c *Collector) flushAndLog(ctx context.Context) {
	if err := c.Flush(ctx); err != nil {
		c.logger.Warn("failed to flush metrics", "error", err)
	}
}

func (c *Collector) prune(ctx context.Context) {
	if c.stats == nil || c.retention <= 0 {
		return
	}
	if _, err := c.stats.PruneStats(ctx, c.queue.Now().Add(-c.retention)); err != nil {
		c.logger.Warn("failed to prune stats", "error", err)
	}
}

// Queues returns the names of queues with recorded events.
func (c *Collector) Queues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.totals))
}
