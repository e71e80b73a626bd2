package core

import (
	"time"

	"gorm.io/datatypes"
)

// Batch tracks a group of jobs dispatched together.
// PendingJobs + ProcessedJobs + FailedJobs + CancelledJobs == TotalJobs.
type Batch struct {
	ID            string `gorm:"primaryKey;size:36"`
	Name          string `gorm:"size:255"`
	Queue         string `gorm:"size:255"`
	TotalJobs     int    `gorm:"not null"`
	PendingJobs   int    `gorm:"not null"`
	ProcessedJobs int    `gorm:"default:0"`
	FailedJobs    int    `gorm:"default:0"`
	CancelledJobs int    `gorm:"default:0"`

	AllowFailures bool `gorm:"default:false"`
	// FailureThreshold cancels the batch once more than this fraction of
	// members failed. Only consulted when AllowFailures is set; 0 disables.
	FailureThreshold float64 `gorm:"default:0"`

	OnSuccess    datatypes.JSONSlice[Callback]
	OnFailure    datatypes.JSONSlice[Callback]
	OnFinally    datatypes.JSONSlice[Callback]
	FailedJobIDs datatypes.JSONSlice[string]

	CancelledAt *time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Finished reports whether the batch has fired its completion callbacks.
func (b *Batch) Finished() bool {
	return b.FinishedAt != nil
}

// Cancelled reports whether the batch was cancelled.
func (b *Batch) Cancelled() bool {
	return b.CancelledAt != nil
}

// FailureRate returns failed members as a fraction of the total.
func (b *Batch) FailureRate() float64 {
	if b.TotalJobs == 0 {
		return 0
	}
	return float64(b.FailedJobs) / float64(b.TotalJobs)
}
