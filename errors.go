package jobs

import "github.com/jdziat/durable-queue/pkg/core"

type (
	// NoRetryError marks a permanent failure.
	NoRetryError = core.NoRetryError
	// RetryAfterError carries an explicit retry delay.
	RetryAfterError = core.RetryAfterError
	// RateLimitedError reports a submission over its rate limit.
	RateLimitedError = core.RateLimitedError
	// InfrastructureError wraps a storage failure.
	InfrastructureError = core.InfrastructureError
)

var (
	ErrInvalidJobTypeName  = core.ErrInvalidJobTypeName
	ErrJobTypeNameTooLong  = core.ErrJobTypeNameTooLong
	ErrInvalidQueueName    = core.ErrInvalidQueueName
	ErrQueueNameTooLong    = core.ErrQueueNameTooLong
	ErrJobArgsTooLarge     = core.ErrJobArgsTooLarge
	ErrUniqueKeyTooLong    = core.ErrUniqueKeyTooLong
	ErrJobNotFound         = core.ErrJobNotFound
	ErrJobNotOwned         = core.ErrJobNotOwned
	ErrNoHandler           = core.ErrNoHandler
	ErrUnknownBackend      = core.ErrUnknownBackend
	ErrRateLimited         = core.ErrRateLimited
	ErrJobTimeout          = core.ErrJobTimeout
	ErrMaxAttemptsExceeded = core.ErrMaxAttemptsExceeded
	ErrChainNotFound       = core.ErrChainNotFound
	ErrBatchNotFound       = core.ErrBatchNotFound
	ErrEmptyChain          = core.ErrEmptyChain
	ErrEmptyBatch          = core.ErrEmptyBatch
	ErrInfrastructure      = core.ErrInfrastructure
)

// IsInfrastructure reports whether err is a storage failure rather than a
// job failure.
func IsInfrastructure(err error) bool {
	return core.IsInfrastructure(err)
}
