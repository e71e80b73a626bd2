// Package handler adapts registered job functions to a uniform call.
//
// A handler is any func(context.Context[, T]) error. Its argument type is
// captured at registration so a job's JSON payload can be decoded into it
// at execution time, and the returned error is classified into a
// core.Outcome. Recovery uses the same decoding to check that a snapshot's
// arguments still fit the handler before re-enqueueing it.
package handler
