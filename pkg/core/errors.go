package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidJobTypeName = errors.New("queue: invalid job type name (must be alphanumeric, start with letter)")
	ErrJobTypeNameTooLong = errors.New("queue: job type name too long")
	ErrInvalidQueueName   = errors.New("queue: invalid queue name")
	ErrQueueNameTooLong   = errors.New("queue: queue name too long")
	ErrJobArgsTooLarge    = errors.New("queue: job arguments exceed size limit")
	ErrUniqueKeyTooLong   = errors.New("queue: unique key exceeds maximum length")
)

// State errors
var (
	ErrJobNotFound     = errors.New("queue: job not found")
	ErrJobNotOwned     = errors.New("queue: job not owned by this worker")
	ErrJobReserved     = errors.New("queue: job is reserved")
	ErrNoHandler       = errors.New("queue: no handler registered")
	ErrUnknownBackend  = errors.New("queue: unknown backend")
	ErrRateLimited     = errors.New("queue: rate limit exceeded")
	ErrJobTimeout      = errors.New("queue: job exceeded its timeout")
	ErrChainNotFound   = errors.New("queue: chain not found")
	ErrBatchNotFound   = errors.New("queue: batch not found")
	ErrEmptyChain      = errors.New("queue: chain has no steps")
	ErrEmptyBatch      = errors.New("queue: batch has no jobs")
	ErrInfrastructure  = errors.New("queue: infrastructure failure")
	ErrSnapshotMissing = errors.New("queue: snapshot not found")

	// ErrThrottled defers a job whose type is over its execution rate. The
	// deferral does not count as an attempt.
	ErrThrottled = fmt.Errorf("queue: job type throttled: %w", ErrRateLimited)

	// ErrMaxAttemptsExceeded fails a job that was reserved again after its
	// last attempt was lost, typically to a crashed worker.
	ErrMaxAttemptsExceeded = errors.New("queue: job has exceeded its maximum attempts")
)

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}

// RateLimitedError is returned by submit when a queue's rate limit is hit.
type RateLimitedError struct {
	Queue      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("queue: rate limit exceeded for %q, retry after %v", e.Queue, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// InfrastructureError marks a failure of the backing store. These are never
// charged against a job's attempt budget.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() []error {
	return []error{ErrInfrastructure, e.Err}
}

// Infra wraps err as an infrastructure failure of op. Nil stays nil, and
// errors that already carry a queue state meaning are passed through.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInfrastructure) {
		return err
	}
	for _, state := range stateErrors {
		if errors.Is(err, state) {
			return err
		}
	}
	return &InfrastructureError{Op: op, Err: err}
}

var stateErrors = []error{
	ErrJobNotFound,
	ErrJobNotOwned,
	ErrChainNotFound,
	ErrBatchNotFound,
	ErrSnapshotMissing,
	ErrEmptyChain,
	ErrEmptyBatch,
}

// IsInfrastructure reports whether err is a store failure.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// ErrorKind returns a stable name for the most specific error in err's chain,
// used to match backoff overrides and non-retryable lists.
func ErrorKind(err error) string {
	kinds := ErrorKinds(err)
	if len(kinds) == 0 {
		return ""
	}
	return kinds[len(kinds)-1]
}

// ErrorKinds returns the type names of every error in err's chain, outermost
// first.
func ErrorKinds(err error) []string {
	var kinds []string
	for err != nil {
		kinds = append(kinds, fmt.Sprintf("%T", err))
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			errs := x.Unwrap()
			if len(errs) == 0 {
				return kinds
			}
			err = errs[len(errs)-1]
		default:
			return kinds
		}
	}
	return kinds
}
