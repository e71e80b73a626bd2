// Package chain runs jobs one after another. Each step is dispatched only
// after the previous one finished; the chain record in the store is the
// single source of truth, so any worker may advance it.
package chain
