package metrics

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/core"
)

// gormStatsStorage implements StatsStorage using GORM.
type gormStatsStorage struct {
	db *gorm.DB
}

// NewGormStatsStorage creates a GORM-backed stats storage.
func NewGormStatsStorage(db *gorm.DB) StatsStorage {
	return &gormStatsStorage{db: db}
}

func (s *gormStatsStorage) MigrateStats(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&JobStat{})
}

// row loads or creates the row of queue at ts inside tx.
func row(tx *gorm.DB, queue string, ts time.Time) (*JobStat, error) {
	var existing JobStat
	err := tx.Where("queue = ? AND timestamp = ?", queue, ts).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existing = JobStat{Queue: queue, Timestamp: ts}
		return &existing, tx.Create(&existing).Error
	}
	return &existing, err
}

func (s *gormStatsStorage) AddCounters(ctx context.Context, queue string, ts time.Time, c Counters) error {
	ts = ts.UTC().Truncate(time.Minute)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := row(tx, queue, ts)
		if err != nil {
			return err
		}
		return tx.Model(existing).Updates(map[string]any{
			"queued":          gorm.Expr("queued + ?", c.Queued),
			"started":         gorm.Expr("started + ?", c.Started),
			"completed":       gorm.Expr("completed + ?", c.Completed),
			"failed":          gorm.Expr("failed + ?", c.Failed),
			"retried":         gorm.Expr("retried + ?", c.Retried),
			"recovered":       gorm.Expr("recovered + ?", c.Recovered),
			"duration_ms":     gorm.Expr("duration_ms + ?", c.TotalDuration.Milliseconds()),
			"max_duration_ms": max(existing.MaxDurationMs, c.MaxDuration.Milliseconds()),
			"peak_memory_mb":  max(existing.PeakMemoryMB, c.PeakMemoryMB),
		}).Error
	})
	return core.Infra("add stat counters", err)
}

func (s *gormStatsStorage) SnapshotQueueDepth(ctx context.Context, queue string, ts time.Time, pending, delayed, reserved int64) error {
	ts = ts.UTC().Truncate(time.Minute)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := row(tx, queue, ts)
		if err != nil {
			return err
		}
		return tx.Model(existing).Updates(map[string]any{
			"pending":  pending,
			"delayed":  delayed,
			"reserved": reserved,
		}).Error
	})
	return core.Infra("snapshot queue depth", err)
}

func (s *gormStatsStorage) GetStatsHistory(ctx context.Context, queue string, since time.Time, until time.Time) ([]JobStat, error) {
	var stats []JobStat
	q := s.db.WithContext(ctx).Order("timestamp ASC, queue ASC")

	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until.UTC())
	}

	return stats, core.Infra("stats history", q.Find(&stats).Error)
}

func (s *gormStatsStorage) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&JobStat{})
	return result.RowsAffected, core.Infra("prune stats", result.Error)
}
