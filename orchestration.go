package jobs

import (
	"github.com/jdziat/durable-queue/pkg/batch"
	"github.com/jdziat/durable-queue/pkg/chain"
	"github.com/jdziat/durable-queue/pkg/core"
)

type (
	// Chain is a persisted sequence of jobs run one after another.
	Chain = core.Chain
	// ChainStatus is the lifecycle state of a chain.
	ChainStatus = core.ChainStatus
	// Batch is a persisted group of jobs run in parallel.
	Batch = core.Batch

	// Chains dispatches and tracks chains.
	Chains = chain.Orchestrator
	// Batches dispatches and tracks batches.
	Batches = batch.Orchestrator
)

const (
	ChainPending   = core.ChainPending
	ChainRunning   = core.ChainRunning
	ChainCompleted = core.ChainCompleted
	ChainFailed    = core.ChainFailed
	ChainCancelled = core.ChainCancelled
)

// NewChains hooks chain advancement into q. Create it once per queue,
// before workers start.
func NewChains(q *Queue) *Chains {
	return chain.New(q)
}

// NewBatches hooks batch accounting into q. Create it once per queue,
// before workers start.
func NewBatches(q *Queue) *Batches {
	return batch.New(q)
}

// Step is one job of a chain.
func Step(jobType string, args any, opts ...Option) chain.Step {
	return chain.Then(jobType, args, opts...)
}

// BatchJob is one member of a batch.
func BatchJob(jobType string, args any, opts ...Option) batch.Member {
	return batch.Job(jobType, args, opts...)
}
