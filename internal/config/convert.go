package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/recovery"
	"github.com/jdziat/durable-queue/pkg/retry"
	"github.com/jdziat/durable-queue/pkg/storage"
	pebblestore "github.com/jdziat/durable-queue/pkg/storage/pebble"
	"github.com/jdziat/durable-queue/pkg/worker"
)

// QueueConfig converts the file settings of a queue.
func (q QueueConfig) QueueConfig() queue.QueueConfig {
	out := queue.QueueConfig{
		MaxAttempts:   q.MaxAttempts,
		Timeout:       q.Timeout.Std(),
		MemoryLimitMB: q.MemoryLimitMB,
		RateLimit:     queue.RateLimit{Max: q.RateLimit.Max, Window: q.RateLimit.Window.Std()},
		UniqueFor:     q.UniqueFor.Std(),
		Middleware:    q.Middleware,
	}
	if q.Backoff != nil {
		out.Backoff = &retry.BackoffConfig{
			Strategy:   retry.Strategy(q.Backoff.Strategy),
			Base:       q.Backoff.Base.Std(),
			Multiplier: q.Backoff.Multiplier,
			Max:        q.Backoff.Max.Std(),
			Jitter:     q.Backoff.Jitter,
		}
	}
	return out
}

// QueueConfigs returns every configured queue, with the pebble queues
// routed to the pebble backend.
func (c Config) QueueConfigs() map[string]queue.QueueConfig {
	out := make(map[string]queue.QueueConfig, len(c.Queues)+len(c.Pebble.Queues))
	for name, qc := range c.Queues {
		out[name] = qc.QueueConfig()
	}
	for _, name := range c.Pebble.Queues {
		qc := out[name]
		qc.Backend = pebblestore.DriverName
		out[name] = qc
	}
	return out
}

// PoolOptions returns the connection pool settings.
func (d DatabaseConfig) PoolOptions() []storage.PoolOption {
	var opts []storage.PoolOption
	if d.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(d.MaxOpenConns))
	}
	if d.MaxIdleConns > 0 {
		opts = append(opts, storage.MaxIdleConns(d.MaxIdleConns))
	}
	return opts
}

// Options returns the pebble store options.
func (p PebbleConfig) Options() (pebblestore.Options, error) {
	mode, err := pebblestore.ParseFsyncMode(p.Fsync)
	if err != nil {
		return pebblestore.Options{}, err
	}
	return pebblestore.Options{DataDir: p.DataDir, Fsync: mode}, nil
}

// Options returns the worker options. Zero values keep the worker
// defaults.
func (w WorkerConfig) Options() []worker.WorkerOption {
	opts := []worker.WorkerOption{
		worker.Queues(w.Queues...),
		worker.MaxJobs(w.MaxJobs),
		worker.Force(w.Force),
		worker.Monitor(w.Monitor),
	}
	if w.Sleep > 0 {
		opts = append(opts, worker.PollSleep(w.Sleep.Std()))
	}
	if w.IdleDelay > 0 {
		opts = append(opts, worker.IdleDelay(w.IdleDelay.Std()))
	}
	if w.MaxTime > 0 {
		opts = append(opts, worker.MaxTime(w.MaxTime.Std()))
	}
	if w.MemoryMB > 0 {
		opts = append(opts, worker.MemoryLimit(w.MemoryMB))
	}
	if w.Timeout > 0 {
		opts = append(opts, worker.Timeout(w.Timeout.Std()))
	}
	if w.Rest > 0 {
		opts = append(opts, worker.Rest(w.Rest.Std()))
	}
	return opts
}

// Options returns the recoverer options.
func (r RecoveryConfig) Options() []recovery.Option {
	return []recovery.Option{
		recovery.Interval(r.Interval.Std()),
		recovery.MaxRecoveryAttempts(r.MaxAttempts),
		recovery.RecoveryDelay(r.Delay.Std()),
		recovery.StuckAfter(r.StuckAfter.Std()),
		recovery.BatchSize(r.BatchSize),
		recovery.SnapshotRetention(r.SnapshotRetention.Std()),
		recovery.FailedRetention(r.FailedRetention.Std()),
	}
}

// PersistOptions returns the snapshot persister options.
func (r RecoveryConfig) PersistOptions() []recovery.PersistOption {
	var opts []recovery.PersistOption
	if r.Strategy != "" {
		opts = append(opts, recovery.WithStrategy(core.RecoveryStrategy(r.Strategy)))
	}
	if r.PersistOnDispatch {
		opts = append(opts, recovery.PersistOnDispatch())
	}
	return opts
}

// Options returns the stats collector options.
func (m MetricsConfig) Options() []metrics.Option {
	return []metrics.Option{
		metrics.WithFlushInterval(m.FlushInterval.Std()),
		metrics.WithRetention(m.Retention.Std()),
		metrics.WithThresholds(metrics.Thresholds{MaxDepth: m.MaxDepth, MaxFailed: m.MaxFailed}),
	}
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", l.Level)
	}
	return level, nil
}

// NewLogger builds the slog logger described by l, writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
