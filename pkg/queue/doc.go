// Package queue provides the Queue manager: the handler registry, per-queue
// configuration, and the submit path every producer goes through.
//
// Submit validates the job, applies the queue's uniqueness window and rate
// limit, routes it to the queue's backend driver and emits a JobQueued
// event. Workers read handlers, middleware and queue settings back from the
// same Queue, and report lifecycle changes through its hooks.
//
// Most users should import the root package github.com/jdziat/durable-queue
// which re-exports Queue and all option functions.
package queue
