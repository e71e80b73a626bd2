package recovery

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
)

// Defaults for Config.
const (
	DefaultInterval            = time.Minute
	DefaultMaxRecoveryAttempts = 3
	DefaultRecoveryDelay       = 5 * time.Minute
	DefaultStuckAfter          = 15 * time.Minute
	DefaultBatchSize           = 100
	DefaultSnapshotRetention   = 7 * 24 * time.Hour
)

// Config holds Recoverer settings.
type Config struct {
	// Interval between recovery passes.
	Interval time.Duration
	// MaxRecoveryAttempts caps how often one snapshot is re-enqueued.
	MaxRecoveryAttempts int
	// RecoveryDelay is how long a delayed snapshot waits after its last
	// change before it is eligible.
	RecoveryDelay time.Duration
	// StuckAfter releases reservations older than this on each pass.
	// Zero disables it.
	StuckAfter time.Duration
	// BatchSize limits the snapshots handled in one pass.
	BatchSize int
	// SnapshotRetention prunes snapshots unchanged for longer. Zero keeps
	// them forever.
	SnapshotRetention time.Duration
	// FailedRetention prunes failed jobs older than this. Zero keeps them.
	FailedRetention time.Duration
	// OwnerID is recorded on the snapshots this recoverer claims.
	OwnerID string

	logger *slog.Logger
}

// DefaultConfig returns the default recovery settings.
func DefaultConfig() Config {
	return Config{
		Interval:            DefaultInterval,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		RecoveryDelay:       DefaultRecoveryDelay,
		StuckAfter:          DefaultStuckAfter,
		BatchSize:           DefaultBatchSize,
		SnapshotRetention:   DefaultSnapshotRetention,
	}
}

// Option configures a Recoverer.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithConfig replaces the whole configuration. Zero fields fall back to
// their defaults; later options still apply on top.
func WithConfig(cfg Config) Option {
	return optionFunc(func(c *Config) {
		logger := c.logger
		def := DefaultConfig()
		if cfg.Interval <= 0 {
			cfg.Interval = def.Interval
		}
		if cfg.MaxRecoveryAttempts <= 0 {
			cfg.MaxRecoveryAttempts = def.MaxRecoveryAttempts
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		*c = cfg
		if c.logger == nil {
			c.logger = logger
		}
	})
}

// Interval sets the time between passes.
func Interval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.Interval = d
		}
	})
}

// MaxRecoveryAttempts caps re-enqueues per snapshot.
func MaxRecoveryAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.MaxRecoveryAttempts = n
		}
	})
}

// RecoveryDelay sets the wait before a delayed snapshot is recovered.
func RecoveryDelay(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.RecoveryDelay = max(d, 0)
	})
}

// StuckAfter sets the reservation age released on each pass. Zero
// disables the release.
func StuckAfter(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.StuckAfter = max(d, 0)
	})
}

// BatchSize limits snapshots per pass.
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	})
}

// SnapshotRetention sets how long snapshots are kept.
func SnapshotRetention(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.SnapshotRetention = max(d, 0)
	})
}

// FailedRetention sets how long failed jobs are kept.
func FailedRetention(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.FailedRetention = max(d, 0)
	})
}

// WithID sets the owner recorded on claimed snapshots.
func WithID(id string) Option {
	return optionFunc(func(c *Config) {
		c.OwnerID = id
	})
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.logger = logger
	})
}

// PersistOption configures a Persister.
type PersistOption interface {
	applyPersister(*Persister)
}

type persistOptionFunc func(*Persister)

func (f persistOptionFunc) applyPersister(p *Persister) { f(p) }

// PersistOnDispatch snapshots every job when it is queued, not only when
// it fails.
func PersistOnDispatch() PersistOption {
	return persistOptionFunc(func(p *Persister) {
		p.onDispatch = true
	})
}

// WithStrategy sets the strategy written on new snapshots.
func WithStrategy(s core.RecoveryStrategy) PersistOption {
	return persistOptionFunc(func(p *Persister) {
		p.strategy = s
	})
}

// QueueStrategy overrides the strategy for the snapshots of one queue.
func QueueStrategy(queue string, s core.RecoveryStrategy) PersistOption {
	return persistOptionFunc(func(p *Persister) {
		if p.perQueue == nil {
			p.perQueue = make(map[string]core.RecoveryStrategy)
		}
		p.perQueue[queue] = s
	})
}
