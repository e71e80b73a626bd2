// Package worker runs jobs: it polls queues in priority order, claims one
// job at a time, executes it through the queue's middleware under a hard
// timeout and records the outcome.
//
// Most users should import the root package github.com/jdziat/durable-queue
// which provides access to worker configuration through jobs.NewWorker().
package worker
