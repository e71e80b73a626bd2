package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJob_State(t *testing.T) {
	now := time.Now()

	job := &Job{AvailableAt: now.Add(-time.Second)}
	assert.Equal(t, StateAvailable, job.State(now))

	job.AvailableAt = now.Add(time.Minute)
	assert.Equal(t, StateDelayed, job.State(now))

	job.Reserved = true
	assert.Equal(t, StateReserved, job.State(now))
}

func TestJob_OwnedBy(t *testing.T) {
	job := &Job{Reserved: true, ReservedBy: "worker-1"}
	assert.True(t, job.OwnedBy("worker-1"))
	assert.False(t, job.OwnedBy("worker-2"))
	assert.False(t, job.OwnedBy(""))

	job.Reserved = false
	assert.False(t, job.OwnedBy("worker-1"))
}

func TestChainStatus_Terminal(t *testing.T) {
	assert.False(t, ChainPending.Terminal())
	assert.False(t, ChainRunning.Terminal())
	assert.True(t, ChainCompleted.Terminal())
	assert.True(t, ChainFailed.Terminal())
	assert.True(t, ChainCancelled.Terminal())
}

func TestBatch_FailureRate(t *testing.T) {
	b := &Batch{TotalJobs: 4, FailedJobs: 1}
	assert.InDelta(t, 0.25, b.FailureRate(), 1e-9)
	assert.Equal(t, 0.0, (&Batch{}).FailureRate())
	assert.False(t, b.Finished())
	assert.False(t, b.Cancelled())
}

func TestEvents_ImplementEvent(t *testing.T) {
	events := []Event{
		&JobQueued{}, &JobStarted{}, &JobCompleted{}, &JobFailed{},
		&JobRetrying{}, &JobRecovered{}, &ChainFinished{}, &BatchFinished{},
		&QueuePaused{}, &QueueResumed{},
	}
	for _, e := range events {
		assert.NotNil(t, e)
	}
}

func TestNewJobID_IsTimeOrdered(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	assert.Len(t, a, 36)
	assert.Less(t, a, b)
}
