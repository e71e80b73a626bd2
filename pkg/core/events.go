package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobQueued is emitted when a job is pushed to a driver.
type JobQueued struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobQueued) eventMarker() {}

// JobStarted is emitted when a job starts processing.
type JobStarted struct {
	Job       *Job
	WorkerID  string
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	MemoryMB  float64
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a job is released for another attempt.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	Duration  time.Duration
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobRecovered is emitted when a snapshot is re-enqueued.
type JobRecovered struct {
	JobID     string
	Queue     string
	Attempt   int
	Timestamp time.Time
}

func (*JobRecovered) eventMarker() {}

// ChainFinished is emitted when a chain reaches a terminal status.
type ChainFinished struct {
	ChainID   string
	Status    ChainStatus
	Timestamp time.Time
}

func (*ChainFinished) eventMarker() {}

// BatchFinished is emitted once when a batch has no pending members left.
type BatchFinished struct {
	Batch     *Batch
	Timestamp time.Time
}

func (*BatchFinished) eventMarker() {}

// QueuePaused is emitted when a queue is paused.
type QueuePaused struct {
	Queue     string
	Timestamp time.Time
}

func (*QueuePaused) eventMarker() {}

// QueueResumed is emitted when a paused queue is resumed.
type QueueResumed struct {
	Queue     string
	Timestamp time.Time
}

func (*QueueResumed) eventMarker() {}
