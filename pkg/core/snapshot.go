package core

import (
	"time"

	"gorm.io/datatypes"
)

// SnapshotStatus is the recovery state of a persisted job.
type SnapshotStatus string

const (
	SnapshotPending    SnapshotStatus = "pending"
	SnapshotFailed     SnapshotStatus = "failed"
	SnapshotRecovering SnapshotStatus = "recovering"
	SnapshotRecovered  SnapshotStatus = "recovered"
	SnapshotCompleted  SnapshotStatus = "completed"
)

// RecoveryStrategy controls when the recovery loop picks a snapshot up.
type RecoveryStrategy string

const (
	// RecoverImmediate re-enqueues on the next recovery pass.
	RecoverImmediate RecoveryStrategy = "immediate"
	// RecoverDelayed waits for the recovery delay since the last change.
	RecoverDelayed RecoveryStrategy = "delayed"
	// RecoverManual is only recovered on explicit request.
	RecoverManual RecoveryStrategy = "manual"
)

// Snapshot is a durable copy of a job sufficient to rebuild and re-enqueue it
// after a crash. It lives apart from the failed job table.
type Snapshot struct {
	JobID            string           `gorm:"primaryKey;size:36"`
	JobType          string           `gorm:"index;size:255;not null"`
	Queue            string           `gorm:"index;size:255"`
	Status           SnapshotStatus   `gorm:"index;size:20;default:'pending'"`
	Strategy         RecoveryStrategy `gorm:"size:20;default:'delayed'"`
	RecoveryAttempts int              `gorm:"default:0"`
	LastRecoveryAt   *time.Time
	RecoveredBy      string         `gorm:"size:255"`
	Payload          datatypes.JSON `gorm:"not null"`
	Error            string         `gorm:"type:text"`
	CreatedAt        time.Time      `gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"index"`
}

// TableName keeps snapshots apart from the failed job table.
func (Snapshot) TableName() string {
	return "job_snapshots"
}
