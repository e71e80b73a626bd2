// Package pebblestore is the sorted-set queue driver, built on Pebble.
//
// Jobs are stored as codec envelopes. Ordered secondary indexes stand in for
// the sorted sets of a key-value queue:
//
//	j/{id}                                   job envelope
//	r/{queue}\x00{^priority}{available ms}{id} ready set
//	d/{queue}\x00{available ms}{id}          delayed set
//	x/{queue}\x00{reserved ms}{id}           reserved set
//	b/{batch}\x00{id}                        batch membership
//	q/{queue}                                known queues
//
// Pop promotes due delayed jobs into the ready set, then reserves the first
// ready key. Pebble holds an exclusive lock on its directory, so a store is
// owned by a single process and the driver mutex makes every claim atomic.
//
// Usage:
//
//	d, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/queue",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer d.Close()
package pebblestore
