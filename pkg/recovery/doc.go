// Package recovery keeps durable snapshots of jobs and re-enqueues the ones
// lost to failures or crashes.
//
// A Persister writes snapshots from queue hooks: always when a job fails
// terminally, and on every dispatch when PersistOnDispatch is set. A
// Recoverer scans the snapshots on a cron schedule, rebuilds each eligible
// job through the handler registry and pushes it back onto its queue.
// Snapshots live in their own table, apart from failed jobs.
package recovery
