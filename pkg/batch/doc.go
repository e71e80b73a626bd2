// Package batch dispatches groups of independent jobs and fires aggregate
// callbacks once every member has finished. Counters live in the store and
// are updated atomically, so members may run on any worker.
package batch
