// Package security provides validation, sanitization, and limits for the queue.
//
// This package includes:
//   - Input validation for job type names, queue names and argument payloads
//   - Error message sanitization before messages are persisted
//   - Clamping functions to enforce safe limits on attempts, timeouts and memory
//
// Most users should import the root package github.com/jdziat/durable-queue
// which re-exports these functions.
package security
