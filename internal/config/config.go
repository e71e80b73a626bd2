package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
	"github.com/jdziat/durable-queue/pkg/storage"
	pebblestore "github.com/jdziat/durable-queue/pkg/storage/pebble"
)

// Duration is a time.Duration that reads "90s" style strings from JSON.
// Plain numbers are taken as nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("config: duration must be a string or integer: %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Database DatabaseConfig         `json:"database"`
	Pebble   PebbleConfig           `json:"pebble"`
	Worker   WorkerConfig           `json:"worker"`
	Queues   map[string]QueueConfig `json:"queues"`
	Recovery RecoveryConfig         `json:"recovery"`
	Metrics  MetricsConfig          `json:"metrics"`
	Log      LogConfig              `json:"log"`
}

// DatabaseConfig selects the coordination store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"maxOpenConns"`
	MaxIdleConns int    `json:"maxIdleConns"`
}

// PebbleConfig enables the pebble driver for the listed queues.
type PebbleConfig struct {
	DataDir string `json:"dataDir"`
	// Fsync is "always", "interval" or "never".
	Fsync  string   `json:"fsync"`
	Queues []string `json:"queues"`
}

// Enabled reports whether any queue is routed to pebble.
func (p PebbleConfig) Enabled() bool {
	return len(p.Queues) > 0
}

// WorkerConfig mirrors the worker command flags.
type WorkerConfig struct {
	Queues    []string `json:"queues"`
	Sleep     Duration `json:"sleep"`
	IdleDelay Duration `json:"idleDelay"`
	MaxJobs   int      `json:"maxJobs"`
	MaxTime   Duration `json:"maxTime"`
	MemoryMB  int      `json:"memoryMB"`
	Timeout   Duration `json:"timeout"`
	Rest      Duration `json:"rest"`
	Force     bool     `json:"force"`
	Monitor   bool     `json:"monitor"`
}

// QueueConfig holds the settings of one queue.
type QueueConfig struct {
	MaxAttempts   int            `json:"maxAttempts"`
	Timeout       Duration       `json:"timeout"`
	MemoryLimitMB int            `json:"memoryLimitMB"`
	RateLimit     RateLimit      `json:"rateLimit"`
	UniqueFor     Duration       `json:"uniqueFor"`
	Middleware    []string       `json:"middleware"`
	Backoff       *BackoffConfig `json:"backoff"`
}

// RateLimit caps submissions per sliding window.
type RateLimit struct {
	Max    int      `json:"max"`
	Window Duration `json:"window"`
}

// BackoffConfig selects a retry delay curve.
type BackoffConfig struct {
	Strategy   string   `json:"strategy"`
	Base       Duration `json:"base"`
	Multiplier float64  `json:"multiplier"`
	Max        Duration `json:"max"`
	Jitter     float64  `json:"jitter"`
}

// RecoveryConfig controls snapshots and the recovery loop.
type RecoveryConfig struct {
	Enabled           bool     `json:"enabled"`
	PersistOnDispatch bool     `json:"persistOnDispatch"`
	Strategy          string   `json:"strategy"`
	Interval          Duration `json:"interval"`
	MaxAttempts       int      `json:"maxAttempts"`
	Delay             Duration `json:"delay"`
	StuckAfter        Duration `json:"stuckAfter"`
	BatchSize         int      `json:"batchSize"`
	SnapshotRetention Duration `json:"snapshotRetention"`
	FailedRetention   Duration `json:"failedRetention"`
}

// MetricsConfig controls the stats collector and health thresholds.
type MetricsConfig struct {
	Enabled       bool     `json:"enabled"`
	FlushInterval Duration `json:"flushInterval"`
	Retention     Duration `json:"retention"`
	MaxDepth      int64    `json:"maxDepth"`
	MaxFailed     int64    `json:"maxFailed"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level"`
	// Format is "text" or "json".
	Format string `json:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: storage.DialectSQLite,
			DSN:    "dq.db",
		},
		Pebble: PebbleConfig{
			DataDir: DefaultDataDir(),
			Fsync:   "interval",
		},
		Worker: WorkerConfig{
			Queues:    []string{core.DefaultQueue},
			Sleep:     Duration(3 * time.Second),
			IdleDelay: Duration(time.Second),
			Timeout:   Duration(60 * time.Second),
		},
		Recovery: RecoveryConfig{
			Enabled:           true,
			Strategy:          string(core.RecoverDelayed),
			Interval:          Duration(time.Minute),
			MaxAttempts:       3,
			Delay:             Duration(5 * time.Minute),
			StuckAfter:        Duration(15 * time.Minute),
			BatchSize:         100,
			SnapshotRetention: Duration(7 * 24 * time.Hour),
		},
		Metrics: MetricsConfig{
			FlushInterval: Duration(time.Minute),
			Retention:     Duration(7 * 24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a JSON file over the defaults. If path is
// empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file type %q; use JSON", ext)
	}
	return cfg, nil
}

// Validate checks the values a worker process cannot start without.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case storage.DialectSQLite, storage.DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("config: unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("config: database dsn is required"))
	}
	if c.Pebble.Enabled() {
		if c.Pebble.DataDir == "" {
			errs = append(errs, errors.New("config: pebble data dir is required"))
		}
		if _, err := pebblestore.ParseFsyncMode(c.Pebble.Fsync); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}
	for _, name := range c.Worker.Queues {
		if err := security.ValidateQueueName(name); err != nil {
			errs = append(errs, fmt.Errorf("config: worker queue %q: %w", name, err))
		}
	}
	for name, qc := range c.Queues {
		if err := security.ValidateQueueName(name); err != nil {
			errs = append(errs, fmt.Errorf("config: queue %q: %w", name, err))
			continue
		}
		if err := qc.QueueConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: queue %q: %w", name, err))
		}
	}
	switch core.RecoveryStrategy(c.Recovery.Strategy) {
	case "", core.RecoverImmediate, core.RecoverDelayed, core.RecoverManual:
	default:
		errs = append(errs, fmt.Errorf("config: unknown recovery strategy %q", c.Recovery.Strategy))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
