package core

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ChainStatus represents the state of a chain. Transitions only move forward:
// pending -> running -> {completed | failed | cancelled}.
type ChainStatus string

const (
	ChainPending   ChainStatus = "pending"
	ChainRunning   ChainStatus = "running"
	ChainCompleted ChainStatus = "completed"
	ChainFailed    ChainStatus = "failed"
	ChainCancelled ChainStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ChainStatus) Terminal() bool {
	return s == ChainCompleted || s == ChainFailed || s == ChainCancelled
}

// Callback is a job descriptor dispatched when a chain or batch reaches a
// given state. Callbacks are durable: they are plain jobs, so any process may
// fire them.
type Callback struct {
	Type  string          `json:"type"`
	Args  json.RawMessage `json:"args,omitempty"`
	Queue string          `json:"queue,omitempty"`
}

// ChainStep is one job of a chain.
type ChainStep struct {
	Type              string          `json:"type"`
	Args              json.RawMessage `json:"args,omitempty"`
	Queue             string          `json:"queue,omitempty"`
	Priority          int             `json:"priority,omitempty"`
	Delay             time.Duration   `json:"delay,omitempty"`
	MaxAttempts       int             `json:"max_attempts,omitempty"`
	ContinueOnFailure bool            `json:"continue_on_failure,omitempty"`
}

// Chain is an ordered sequence of jobs where each step is dispatched only
// after the previous one finished.
type Chain struct {
	ID           string                         `gorm:"primaryKey;size:36"`
	Name         string                         `gorm:"size:255"`
	Queue        string                         `gorm:"size:255"`
	Steps        datatypes.JSONSlice[ChainStep] `gorm:"not null"`
	CurrentStep  int                            `gorm:"default:0"`
	CurrentJobID string                         `gorm:"size:36"`
	Status       ChainStatus                    `gorm:"index;size:20;default:'pending'"`
	OnSuccess    datatypes.JSONSlice[Callback]
	OnFailure    datatypes.JSONSlice[Callback]
	LastError    string `gorm:"type:text"`
	FinishedAt   *time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}
