// Package core holds the types every other package shares.
//
// The GORM models (Job, FailedJob, Chain, Batch, Snapshot and the
// coordination rows) define the durable schema. Driver is the contract a
// live-job backend implements; Storage adds the relational tables that only
// the gorm store provides. Outcome is the classified result of one
// execution and the Event types are what Queue.Events publishes.
//
// Applications normally use the root package github.com/jdziat/durable-queue.
package core
