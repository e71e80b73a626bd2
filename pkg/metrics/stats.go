package metrics

import (
	"context"
	"time"
)

// JobStat stores per-queue statistics bucketed by minute.
type JobStat struct {
	ID        uint      `gorm:"primaryKey"`
	Queue     string    `gorm:"uniqueIndex:idx_job_stats_queue_ts;size:255;not null"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_job_stats_queue_ts;not null"`

	// Depth at the last snapshot of the minute.
	Pending  int64 `gorm:"default:0"`
	Delayed  int64 `gorm:"default:0"`
	Reserved int64 `gorm:"default:0"`

	Queued    int64 `gorm:"default:0"`
	Started   int64 `gorm:"default:0"`
	Completed int64 `gorm:"default:0"`
	Failed    int64 `gorm:"default:0"`
	Retried   int64 `gorm:"default:0"`
	Recovered int64 `gorm:"default:0"`

	DurationMs    int64   `gorm:"default:0"`
	MaxDurationMs int64   `gorm:"default:0"`
	PeakMemoryMB  float64 `gorm:"default:0"`
}

// TableName pins the stats table name.
func (JobStat) TableName() string {
	return "job_stats"
}

// StatsStorage is the interface for stats persistence.
type StatsStorage interface {
	MigrateStats(ctx context.Context) error
	// AddCounters merges c into the row of queue at the minute of ts.
	AddCounters(ctx context.Context, queue string, ts time.Time, c Counters) error
	SnapshotQueueDepth(ctx context.Context, queue string, ts time.Time, pending, delayed, reserved int64) error
	GetStatsHistory(ctx context.Context, queue string, since time.Time, until time.Time) ([]JobStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}
