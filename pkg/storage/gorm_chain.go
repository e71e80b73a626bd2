package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// CreateChain stores a new chain in the pending state.
func (s *GormStorage) CreateChain(ctx context.Context, chain *core.Chain) error {
	if chain.ID == "" {
		chain.ID = uuid.New().String()
	}
	if chain.Status == "" {
		chain.Status = core.ChainPending
	}
	if len(chain.Steps) == 0 {
		return core.ErrEmptyChain
	}
	return core.Infra("create chain", s.db.WithContext(ctx).Create(chain).Error)
}

// GetChain retrieves a chain by id.
func (s *GormStorage) GetChain(ctx context.Context, id string) (*core.Chain, error) {
	var chain core.Chain
	err := s.db.WithContext(ctx).First(&chain, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrChainNotFound
	}
	if err != nil {
		return nil, core.Infra("get chain", err)
	}
	return &chain, nil
}

// AdvanceChain moves the chain from step `from` to the next one.
// Terminal chains never advance.
func (s *GormStorage) AdvanceChain(ctx context.Context, id string, from int, jobID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Chain{}).
		Where("id = ? AND current_step = ?", id, from).
		Where("status IN ?", []core.ChainStatus{core.ChainPending, core.ChainRunning}).
		Updates(map[string]any{
			"current_step":   from + 1,
			"current_job_id": jobID,
			"updated_at":     s.now(),
		})
	if result.Error != nil {
		return false, core.Infra("advance chain", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TransitionChain moves the chain to `to` if it is currently in one of `from`.
func (s *GormStorage) TransitionChain(ctx context.Context, id string, from []core.ChainStatus, to core.ChainStatus, lastError string) (bool, error) {
	now := s.now()
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if lastError != "" {
		updates["last_error"] = security.SanitizeErrorMessage(lastError)
	}
	if to.Terminal() {
		updates["finished_at"] = now
	}
	result := s.db.WithContext(ctx).
		Model(&core.Chain{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, core.Infra("transition chain", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetChainJob records the job dispatched for the chain's current step.
func (s *GormStorage) SetChainJob(ctx context.Context, id string, jobID string) error {
	err := s.db.WithContext(ctx).
		Model(&core.Chain{}).
		Where("id = ?", id).
		Updates(map[string]any{"current_job_id": jobID, "updated_at": s.now()}).Error
	return core.Infra("set chain job", err)
}
