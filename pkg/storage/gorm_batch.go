package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/core"
)

// CreateBatch stores a new batch with every member pending.
func (s *GormStorage) CreateBatch(ctx context.Context, batch *core.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.TotalJobs <= 0 {
		return core.ErrEmptyBatch
	}
	batch.PendingJobs = batch.TotalJobs
	return core.Infra("create batch", s.db.WithContext(ctx).Create(batch).Error)
}

// GetBatch retrieves a batch by id.
func (s *GormStorage) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	return getBatch(s.db.WithContext(ctx), id)
}

func getBatch(db *gorm.DB, id string) (*core.Batch, error) {
	var batch core.Batch
	err := db.First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrBatchNotFound
	}
	if err != nil {
		return nil, core.Infra("get batch", err)
	}
	return &batch, nil
}

// RecordBatchResult counts one finished member. The counter update runs in
// SQL so concurrent workers never lose an increment; it is a no-op once
// nothing is pending.
func (s *GormStorage) RecordBatchResult(ctx context.Context, id string, jobID string, success bool) (*core.Batch, error) {
	var batch *core.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := "processed_jobs"
		if !success {
			counter = "failed_jobs"
		}
		result := tx.Model(&core.Batch{}).
			Where("id = ? AND pending_jobs > 0", id).
			Updates(map[string]any{
				"pending_jobs": gorm.Expr("pending_jobs - 1"),
				counter:        gorm.Expr(counter + " + 1"),
				"updated_at":   s.now(),
			})
		if result.Error != nil {
			return result.Error
		}

		b, err := getBatch(tx, id)
		if err != nil {
			return err
		}
		if result.RowsAffected > 0 && !success {
			b.FailedJobIDs = append(b.FailedJobIDs, jobID)
			err := tx.Model(&core.Batch{}).
				Where("id = ?", id).
				Update("failed_job_ids", b.FailedJobIDs).Error
			if err != nil {
				return err
			}
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, core.Infra("record batch result", err)
	}
	return batch, nil
}

// CancelBatch marks the batch cancelled once.
func (s *GormStorage) CancelBatch(ctx context.Context, id string) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Batch{}).
		Where("id = ? AND cancelled_at IS NULL", id).
		Updates(map[string]any{"cancelled_at": now, "updated_at": now})
	if result.Error != nil {
		return false, core.Infra("cancel batch", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AddBatchCancelled moves removed members from pending to cancelled.
func (s *GormStorage) AddBatchCancelled(ctx context.Context, id string, removed int64) (*core.Batch, error) {
	var batch *core.Batch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if removed > 0 {
			err := tx.Model(&core.Batch{}).
				Where("id = ? AND pending_jobs >= ?", id, removed).
				Updates(map[string]any{
					"pending_jobs":   gorm.Expr("pending_jobs - ?", removed),
					"cancelled_jobs": gorm.Expr("cancelled_jobs + ?", removed),
					"updated_at":     s.now(),
				}).Error
			if err != nil {
				return err
			}
		}
		b, err := getBatch(tx, id)
		batch = b
		return err
	})
	if err != nil {
		return nil, core.Infra("add batch cancelled", err)
	}
	return batch, nil
}

// FinishBatch sets finished_at once, and only when nothing is pending.
func (s *GormStorage) FinishBatch(ctx context.Context, id string) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Batch{}).
		Where("id = ? AND finished_at IS NULL AND pending_jobs = 0", id).
		Updates(map[string]any{"finished_at": now, "updated_at": now})
	if result.Error != nil {
		return false, core.Infra("finish batch", result.Error)
	}
	return result.RowsAffected > 0, nil
}
