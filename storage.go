package jobs

import (
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/metrics"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/storage"
	pebblestore "github.com/jdziat/durable-queue/pkg/storage/pebble"
)

type (
	// GormStorage stores jobs in SQLite or PostgreSQL.
	GormStorage = storage.GormStorage
	// PebbleDriver stores live jobs in a pebble key-value store.
	PebbleDriver = pebblestore.Driver
	// PebbleOptions configures a pebble driver.
	PebbleOptions = pebblestore.Options
	// StatsStorage persists per-minute metrics.
	StatsStorage = metrics.StatsStorage
)

const (
	// GormBackend is the backend name of the relational store.
	GormBackend = storage.DriverName
	// PebbleBackend is the backend name of the pebble driver.
	PebbleBackend = pebblestore.DriverName
)

// OpenDB opens a database with dialect "sqlite" or "postgres".
func OpenDB(dialect, dsn string, opts ...storage.PoolOption) (*gorm.DB, error) {
	return storage.Open(dialect, dsn, opts...)
}

// NewGormStorage creates a relational store on db. Call Migrate before use.
func NewGormStorage(db *gorm.DB, opts ...storage.Option) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NewStatsStorage creates the metrics store on db.
func NewStatsStorage(db *gorm.DB) StatsStorage {
	return metrics.NewGormStatsStorage(db)
}

// OpenPebble opens a pebble driver. Register it on a queue with
// WithDriver(PebbleBackend, d) and route queues to it through
// QueueConfig.Backend.
func OpenPebble(opts PebbleOptions) (*PebbleDriver, error) {
	return pebblestore.Open(opts)
}

// WithDriver registers an extra backend on a queue.
func WithDriver(name string, d Driver) ManagerOption {
	return queue.WithDriver(name, d)
}
