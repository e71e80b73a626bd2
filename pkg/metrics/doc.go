// Package metrics turns queue events into per-queue counters, persists
// them as per-minute rows and reports queue health.
package metrics
