// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly.
// It carries the job being executed, the worker running it and a submit
// hook for follow-up jobs.
package context
