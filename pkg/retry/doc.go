// Package retry decides whether a failed operation runs again and when.
//
// BackoffConfig computes delays for the immediate, linear, exponential and
// exponential-jitter strategies, each clamped to Max. Manager layers
// retryability rules and per-error-kind overrides on top, and tracks
// attempts per identity: once an identity exceeds MaxRetries it stays
// exhausted until Reset.
//
// Workers keep a job's durable attempt count on the job itself and only use
// the Manager to classify errors. A worker sharing its Manager with the
// application forgets a job's identity state once the job completes or
// fails for good. Call Prune periodically for identities that never reach
// a terminal outcome.
//
// Do and DoAsync wrap arbitrary operations, such as store calls that may
// fail transiently:
//
//	err := retry.Do(ctx, retry.DefaultDoConfig(), func(ctx context.Context) error {
//		return store.Ping(ctx)
//	})
package retry
