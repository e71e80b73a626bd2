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

// SaveSnapshot stores or replaces the snapshot of a job.
func (s *GormStorage) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	now := s.now()
	if snap.Status == "" {
		snap.Status = core.SnapshotPending
	}
	if snap.Strategy == "" {
		snap.Strategy = core.RecoverDelayed
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now
	snap.Error = security.SanitizeErrorMessage(snap.Error)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"job_type", "queue", "status", "strategy", "payload", "error", "updated_at",
			}),
		}).
		Create(snap).Error
	return core.Infra("save snapshot", err)
}

// GetSnapshot retrieves the snapshot of a job.
func (s *GormStorage) GetSnapshot(ctx context.Context, jobID string) (*core.Snapshot, error) {
	var snap core.Snapshot
	err := s.db.WithContext(ctx).First(&snap, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrSnapshotMissing
	}
	if err != nil {
		return nil, core.Infra("get snapshot", err)
	}
	return &snap, nil
}

// ListSnapshots lists snapshots with status, oldest change first. An empty
// status lists all of them.
func (s *GormStorage) ListSnapshots(ctx context.Context, status core.SnapshotStatus, limit int) ([]*core.Snapshot, error) {
	q := s.db.WithContext(ctx).Order("updated_at ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var snaps []*core.Snapshot
	err := q.Find(&snaps).Error
	return snaps, core.Infra("list snapshots", err)
}

// ListRecoverable selects failed snapshots under the attempt ceiling.
// Immediate snapshots are always eligible; delayed ones once their last
// change is older than DelayedBefore. Manual snapshots are never listed.
func (s *GormStorage) ListRecoverable(ctx context.Context, rq core.RecoveryQuery) ([]*core.Snapshot, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", core.SnapshotFailed).
		Where("recovery_attempts < ?", rq.MaxAttempts).
		Where("(strategy = ? OR (strategy = ? AND updated_at <= ?))",
			core.RecoverImmediate, core.RecoverDelayed, rq.DelayedBefore.UTC()).
		Order("updated_at ASC")
	if rq.Limit > 0 {
		q = q.Limit(rq.Limit)
	}
	var snaps []*core.Snapshot
	err := q.Find(&snaps).Error
	return snaps, core.Infra("list recoverable", err)
}

// ClaimSnapshot moves a failed snapshot to recovering. The attempt count in
// the WHERE clause makes concurrent claims mutually exclusive.
func (s *GormStorage) ClaimSnapshot(ctx context.Context, jobID string, attempts int, owner string) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Snapshot{}).
		Where("job_id = ? AND status = ? AND recovery_attempts = ?", jobID, core.SnapshotFailed, attempts).
		Updates(map[string]any{
			"status":            core.SnapshotRecovering,
			"recovery_attempts": attempts + 1,
			"last_recovery_at":  now,
			"recovered_by":      owner,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, core.Infra("claim snapshot", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkSnapshot sets the status of a snapshot, recording errMsg if given.
func (s *GormStorage) MarkSnapshot(ctx context.Context, jobID string, status core.SnapshotStatus, errMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": s.now(),
	}
	if errMsg != "" {
		updates["error"] = security.SanitizeErrorMessage(errMsg)
	}
	result := s.db.WithContext(ctx).
		Model(&core.Snapshot{}).
		Where("job_id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return core.Infra("mark snapshot", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrSnapshotMissing
	}
	return nil
}

// DeleteSnapshot removes the snapshot of a job.
func (s *GormStorage) DeleteSnapshot(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&core.Snapshot{}).Error
	return core.Infra("delete snapshot", err)
}

// PruneSnapshots removes snapshots last changed before the cutoff, except
// those being recovered right now.
func (s *GormStorage) PruneSnapshots(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("updated_at < ? AND status <> ?", before.UTC(), core.SnapshotRecovering).
		Delete(&core.Snapshot{})
	return result.RowsAffected, core.Infra("prune snapshots", result.Error)
}
