package core

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultQueue is used when a job does not name a queue.
const DefaultQueue = "default"

// JobState is the derived lifecycle position of a job.
// Every job is in exactly one of these at any time.
type JobState string

const (
	StateAvailable JobState = "available"
	StateDelayed   JobState = "delayed"
	StateReserved  JobState = "reserved"
	StateFailed    JobState = "failed"
	StateDeleted   JobState = "deleted"
)

// Job is the live record for a unit of deferred work.
type Job struct {
	ID          string `gorm:"primaryKey;size:36"`
	Type        string `gorm:"index;size:255;not null"`
	Queue       string `gorm:"index:idx_jobs_claim,priority:1;size:255;default:'default'"`
	Payload     []byte
	Attempts    int           `gorm:"default:0"`
	MaxAttempts int           `gorm:"default:3"`
	Priority    int           `gorm:"index:idx_jobs_claim,priority:3;default:0"`
	AvailableAt time.Time     `gorm:"index:idx_jobs_claim,priority:4"`
	Reserved    bool          `gorm:"index:idx_jobs_claim,priority:2;default:false"`
	ReservedBy  string        `gorm:"size:255"`
	ReservedAt  *time.Time    `gorm:"index"`
	Timeout     time.Duration `gorm:"default:0"`
	Backend     string        `gorm:"size:64"`
	UniqueKey   string        `gorm:"index;size:255"`

	// Chain membership
	ChainID   *string `gorm:"index;size:36"`
	ChainStep int     `gorm:"default:0"`

	// Batch membership
	BatchID *string `gorm:"index;size:36"`

	LastError string `gorm:"type:text"`
	History   datatypes.JSONSlice[AttemptRecord]
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// State reports where the job currently sits relative to now.
func (j *Job) State(now time.Time) JobState {
	if j.Reserved {
		return StateReserved
	}
	if j.AvailableAt.After(now) {
		return StateDelayed
	}
	return StateAvailable
}

// OwnedBy reports whether owner holds the reservation.
func (j *Job) OwnedBy(owner string) bool {
	return j.Reserved && owner != "" && j.ReservedBy == owner
}

// AttemptRecord is one entry of a job's retry history.
type AttemptRecord struct {
	Attempt   int           `json:"attempt"`
	At        time.Time     `json:"at"`
	Delay     time.Duration `json:"delay"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// FailedJob is the terminal snapshot of a job that failed permanently or
// exhausted its attempts.
type FailedJob struct {
	ID        string `gorm:"primaryKey;size:36"`
	Type      string `gorm:"index;size:255;not null"`
	Queue     string `gorm:"index;size:255"`
	Payload   []byte
	Exception string  `gorm:"type:text"`
	ErrorKind string  `gorm:"size:255"`
	Attempts  int     `gorm:"default:0"`
	Priority  int     `gorm:"default:0"`
	Backend   string  `gorm:"size:64"`
	ChainID   *string `gorm:"index;size:36"`
	ChainStep int     `gorm:"default:0"`
	BatchID   *string `gorm:"index;size:36"`
	History   datatypes.JSONSlice[AttemptRecord]
	FailedAt  time.Time `gorm:"index"`
}

// QueueState tracks the pause state of a queue.
type QueueState struct {
	Queue     string `gorm:"primaryKey;size:255"`
	Paused    bool   `gorm:"default:false"`
	PausedAt  *time.Time
	PausedBy  string    `gorm:"size:255"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// UniqueLock reserves an identity key for a job until it expires.
type UniqueLock struct {
	Key       string    `gorm:"primaryKey;size:255"`
	JobID     string    `gorm:"size:36;not null"`
	ExpiresAt time.Time `gorm:"index"`
}

// RateHit is one entry of a sliding-window rate log.
type RateHit struct {
	ID  uint      `gorm:"primaryKey;autoIncrement"`
	Key string    `gorm:"index:idx_rate_hits_key_at,priority:1;size:255"`
	At  time.Time `gorm:"index:idx_rate_hits_key_at,priority:2"`
}

// QueueStats summarises the live state of one queue.
type QueueStats struct {
	Queue    string `json:"queue"`
	Pending  int64  `json:"pending"`
	Delayed  int64  `json:"delayed"`
	Reserved int64  `json:"reserved"`
	Failed   int64  `json:"failed"`
}

// NewJobID returns a time-ordered (version 7) UUID, so ids created later
// sort after earlier ones.
func NewJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}
