package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/durable-queue/pkg/core"
)

// ──────────────────────────────────────────────────────────────────────────────
// Unique locks
// ──────────────────────────────────────────────────────────────────────────────

// AcquireUnique takes key for jobID until ttl elapses. An expired lock is
// taken over with a compare-and-set on its expiry.
func (s *GormStorage) AcquireUnique(ctx context.Context, key string, jobID string, ttl time.Duration) (string, bool, error) {
	now := s.now()
	lock := core.UniqueLock{Key: key, JobID: jobID, ExpiresAt: now.Add(ttl)}

	var holder string
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			acquired = true
			return nil
		}

		result = tx.Model(&core.UniqueLock{}).
			Where("key = ? AND expires_at <= ?", key, now).
			Updates(map[string]any{"job_id": jobID, "expires_at": lock.ExpiresAt})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			acquired = true
			return nil
		}

		var existing core.UniqueLock
		if err := tx.First(&existing, "key = ?", key).Error; err != nil {
			return err
		}
		holder = existing.JobID
		return nil
	})
	if err != nil {
		return "", false, core.Infra("acquire unique", err)
	}
	if acquired {
		return jobID, true, nil
	}
	return holder, false, nil
}

// ReleaseUnique drops key if it is still held by jobID.
func (s *GormStorage) ReleaseUnique(ctx context.Context, key string, jobID string) error {
	err := s.db.WithContext(ctx).
		Where("key = ? AND job_id = ?", key, jobID).
		Delete(&core.UniqueLock{}).Error
	return core.Infra("release unique", err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate windows
// ──────────────────────────────────────────────────────────────────────────────

// HitRate records a hit on a sliding-window log. On PostgreSQL the window
// is serialised with a transaction-scoped advisory lock on the key.
func (s *GormStorage) HitRate(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := s.now()
	windowStart := now.Add(-window)

	allowed := false
	var retryAfter time.Duration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.IsPostgres() {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("key = ? AND at <= ?", key, windowStart).Delete(&core.RateHit{}).Error; err != nil {
			return err
		}

		var hits []core.RateHit
		err := tx.Where("key = ?", key).Order("at ASC").Limit(limit).Find(&hits).Error
		if err != nil {
			return err
		}
		if len(hits) >= limit {
			retryAfter = hits[0].At.Add(window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
			return nil
		}

		allowed = true
		return tx.Create(&core.RateHit{Key: key, At: now}).Error
	})
	if err != nil {
		return false, 0, core.Infra("hit rate", err)
	}
	return allowed, retryAfter, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queue pause flags
// ──────────────────────────────────────────────────────────────────────────────

// PauseQueue persists a pause flag for queue.
func (s *GormStorage) PauseQueue(ctx context.Context, queue string) error {
	now := s.now()
	state := core.QueueState{Queue: queue, Paused: true, PausedAt: &now, UpdatedAt: now}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "queue"}},
			DoUpdates: clause.AssignmentColumns([]string{"paused", "paused_at", "updated_at"}),
		}).
		Create(&state).Error
	return core.Infra("pause queue", err)
}

// UnpauseQueue clears the pause flag for queue.
func (s *GormStorage) UnpauseQueue(ctx context.Context, queue string) error {
	err := s.db.WithContext(ctx).
		Model(&core.QueueState{}).
		Where("queue = ?", queue).
		Updates(map[string]any{"paused": false, "paused_at": nil, "updated_at": s.now()}).Error
	return core.Infra("unpause queue", err)
}

// IsQueuePaused reports whether queue carries a pause flag.
func (s *GormStorage) IsQueuePaused(ctx context.Context, queue string) (bool, error) {
	var state core.QueueState
	err := s.db.WithContext(ctx).First(&state, "queue = ?", queue).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, core.Infra("is queue paused", err)
	}
	return state.Paused, nil
}

// GetPausedQueues lists every paused queue.
func (s *GormStorage) GetPausedQueues(ctx context.Context) ([]string, error) {
	var queues []string
	err := s.db.WithContext(ctx).
		Model(&core.QueueState{}).
		Where("paused = ?", true).
		Order("queue ASC").
		Pluck("queue", &queues).Error
	return queues, core.Infra("get paused queues", err)
}
