// Package storage provides the relational queue driver and coordination store.
//
// This package includes:
//   - GormStorage: a GORM-backed core.Storage for SQLite and PostgreSQL
//   - Open: dialect selection with UTC timestamps and quiet logging
//   - Connection pool tuning via PoolOption
//
// GormStorage is both a live-queue Driver and the store for failed jobs,
// chains, batches, unique locks, rate windows, snapshots and pause flags.
//
// Most users should import the root package github.com/jdziat/durable-queue
// which provides NewGormStorage() to create storage instances.
package storage
