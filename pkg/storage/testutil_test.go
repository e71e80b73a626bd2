package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
// PostgreSQL connections are pool-limited and closed on test cleanup to
// avoid exceeding max_connections.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := Open(DialectPostgres, dsn, MaxOpenConns(4), MaxIdleConns(1))
		require.NoError(t, err, "open postgres test db")

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(db)
		t.Cleanup(func() {
			cleanupPostgresDB(db)
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}
	db, err := Open(DialectSQLite, ":memory:")
	require.NoError(t, err, "open in-memory sqlite")
	return db
}

// cleanupPostgresDB deletes all rows from tables after each test
// so tests are isolated without requiring a fresh database per test.
func cleanupPostgresDB(db *gorm.DB) {
	tables := []string{
		"rate_hits", "unique_locks", "job_snapshots", "batches", "chains",
		"failed_jobs", "queue_states", "jobs",
	}
	for _, tbl := range tables {
		if db.Migrator().HasTable(tbl) {
			db.Exec("DELETE FROM " + tbl)
		}
	}
}

// testClock is advanced by hand so window and expiry tests stay exact.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// newTestStorage creates a fresh migrated storage for each test.
func newTestStorage(t *testing.T, opts ...Option) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t), opts...)
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newClockedStorage returns a storage driven by a manual clock.
func newClockedStorage(t *testing.T) (*GormStorage, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return newTestStorage(t, WithClock(clock.Now)), clock
}

// newTestJob builds a minimal valid Job for insertion in tests.
func newTestJob(queue, jobType string) *core.Job {
	return &core.Job{
		Type:        jobType,
		Queue:       queue,
		MaxAttempts: 3,
	}
}
