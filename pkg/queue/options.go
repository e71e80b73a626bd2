package queue

import (
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Default values.
var (
	DefaultMaxAttempts = 3
	DefaultUniqueFor   = time.Hour
)

// Options holds configuration for job submission and registration.
// Registration options act as defaults that submit options override.
type Options struct {
	Queue       string
	Priority    int
	MaxAttempts int
	Delay       time.Duration
	RunAt       *time.Time
	Timeout     time.Duration
	Unique      bool
	UniqueKey   string
	UniqueFor   time.Duration
	ChainID     string
	ChainStep   int
	BatchID     string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{Queue: core.DefaultQueue}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt sets the queue name.
func QueueOpt(name string) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// Priority sets the job priority (higher = runs first).
// Values are clamped to [security.MinPriority, security.MaxPriority].
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = security.ClampPriority(p)
	})
}

// MaxAttempts sets how many times the job may run.
// Values are clamped to [1, security.MaxAttempts].
func MaxAttempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Timeout sets the hard wall-clock limit of one execution.
func Timeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Timeout = security.ClampTimeout(d)
	})
}

// Unique makes the job unique by type, queue and arguments.
func Unique() Option {
	return optionFunc(func(o *Options) {
		o.Unique = true
	})
}

// UniqueKey makes the job unique under an explicit key.
func UniqueKey(key string) Option {
	return optionFunc(func(o *Options) {
		o.Unique = true
		o.UniqueKey = key
	})
}

// NoUnique clears uniqueness set by earlier options.
func NoUnique() Option {
	return optionFunc(func(o *Options) {
		o.Unique = false
		o.UniqueKey = ""
	})
}

// UniqueFor sets how long the uniqueness lock is held at most.
func UniqueFor(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.UniqueFor = d
	})
}

// InChain tags the job as step of a chain.
func InChain(chainID string, step int) Option {
	return optionFunc(func(o *Options) {
		o.ChainID = chainID
		o.ChainStep = step
	})
}

// InBatch tags the job as member of a batch.
func InBatch(batchID string) Option {
	return optionFunc(func(o *Options) {
		o.BatchID = batchID
	})
}
