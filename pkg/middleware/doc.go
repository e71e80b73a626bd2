// Package middleware wraps job execution in composable stages.
//
// A Middleware receives the rest of the pipeline and decides whether and
// when to call it. Chain composes stages with the first one outermost:
//
//	pipeline := middleware.Chain(
//		middleware.Recover(),
//		middleware.Logging(logger),
//		middleware.Throttle(store, 10, time.Minute),
//		middleware.Classify(retries),
//	)
//	outcome := pipeline(run)(ctx, job)
package middleware
