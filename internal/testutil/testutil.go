// Package testutil opens migrated stores for tests in other packages.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/storage"
)

// Tables lists every table GormStorage migrates, children first.
var Tables = []string{
	"rate_hits", "unique_locks", "job_snapshots", "batches", "chains",
	"failed_jobs", "queue_states", "job_stats", "jobs",
}

// OpenDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance on a single connection.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := storage.Open(storage.DialectPostgres, dsn,
			storage.MaxOpenConns(4), storage.MaxIdleConns(1))
		require.NoError(t, err, "open postgres test db")

		// Clean before AND after to ensure test isolation.
		Clean(db)
		t.Cleanup(func() {
			Clean(db)
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}

	db, err := storage.Open(storage.DialectSQLite, ":memory:")
	require.NoError(t, err, "open in-memory sqlite")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clean deletes all rows from every known table.
func Clean(db *gorm.DB) {
	for _, tbl := range Tables {
		if db.Migrator().HasTable(tbl) {
			db.Exec("DELETE FROM " + tbl)
		}
	}
}

// NewStorage returns a migrated GormStorage.
func NewStorage(t testing.TB, opts ...storage.Option) *storage.GormStorage {
	t.Helper()
	s := storage.NewGormStorage(OpenDB(t), opts...)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// Clock is a manually advanced time source, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
