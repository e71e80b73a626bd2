package core

import (
	"errors"
	"time"
)

// OutcomeKind tags the result of executing a job.
type OutcomeKind int

const (
	// OutcomeSuccess means the job finished and can be deleted.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetry means the job asked to run again after Delay.
	OutcomeRetry
	// OutcomePermanent means the job must never be retried.
	OutcomePermanent
	// OutcomeUnclassified is a plain error; the retry manager decides.
	OutcomeUnclassified
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomePermanent:
		return "permanent"
	case OutcomeUnclassified:
		return "unclassified"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one execution. Handlers may return it
// directly; plain errors are converted with FromError.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
}

// Success returns a success outcome.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Retry asks for another attempt after d.
func Retry(d time.Duration, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: d, Err: err}
}

// Permanent fails the job without further attempts.
func Permanent(err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Err: err}
}

// Unclassified wraps a plain error.
func Unclassified(err error) Outcome {
	return Outcome{Kind: OutcomeUnclassified, Err: err}
}

// FromError converts a handler error into an outcome. RetryAfterError and
// NoRetryError map to their explicit kinds.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}
	var noRetry *NoRetryError
	if errors.As(err, &noRetry) {
		return Permanent(err)
	}
	var retryAfter *RetryAfterError
	if errors.As(err, &retryAfter) {
		return Retry(retryAfter.Delay, err)
	}
	return Unclassified(err)
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// Error returns the message of the carried error, or "".
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
