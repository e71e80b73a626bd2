package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

func (s *GormStorage) prepareFailed(failed *core.FailedJob) {
	if failed.Queue == "" {
		failed.Queue = core.DefaultQueue
	}
	if failed.FailedAt.IsZero() {
		failed.FailedAt = s.now()
	}
	failed.FailedAt = failed.FailedAt.UTC()
	failed.Exception = security.SanitizeErrorMessage(failed.Exception)
}

// SaveFailed stores a failed job, replacing an earlier record with the same id.
func (s *GormStorage) SaveFailed(ctx context.Context, failed *core.FailedJob) error {
	s.prepareFailed(failed)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(failed).Error
	return core.Infra("save failed", err)
}

// GetFailed retrieves a failed job by its original id.
func (s *GormStorage) GetFailed(ctx context.Context, id string) (*core.FailedJob, error) {
	var failed core.FailedJob
	err := s.db.WithContext(ctx).First(&failed, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, core.Infra("get failed", err)
	}
	return &failed, nil
}

// ListFailed returns failed jobs, newest first.
func (s *GormStorage) ListFailed(ctx context.Context, filter core.FailedFilter) ([]*core.FailedJob, error) {
	q := s.db.WithContext(ctx).Order("failed_at DESC, id ASC")
	if filter.Queue != "" {
		q = q.Where("queue = ?", filter.Queue)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var list []*core.FailedJob
	err := q.Find(&list).Error
	return list, core.Infra("list failed", err)
}

// CountFailed counts failed jobs. An empty queue counts all of them.
func (s *GormStorage) CountFailed(ctx context.Context, queue string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&core.FailedJob{})
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	var count int64
	err := q.Count(&count).Error
	return count, core.Infra("count failed", err)
}

// DeleteFailed removes one failed job.
func (s *GormStorage) DeleteFailed(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&core.FailedJob{})
	return result.RowsAffected > 0, core.Infra("delete failed", result.Error)
}

// ClearFailed removes failed jobs of queue, or all of them when queue is "".
func (s *GormStorage) ClearFailed(ctx context.Context, queue string) (int64, error) {
	q := s.db.WithContext(ctx)
	if queue != "" {
		q = q.Where("queue = ?", queue)
	} else {
		q = q.Where("1 = 1")
	}
	result := q.Delete(&core.FailedJob{})
	return result.RowsAffected, core.Infra("clear failed", result.Error)
}

// PruneFailed removes failed jobs recorded before the cutoff.
func (s *GormStorage) PruneFailed(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("failed_at < ?", before.UTC()).
		Delete(&core.FailedJob{})
	return result.RowsAffected, core.Infra("prune failed", result.Error)
}
