package pebblestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// DriverName is the default backend name of a pebble Driver.
const DriverName = "pebble"

// Driver is a core.Driver backed by an embedded Pebble database.
//
// Claims and state moves run under one mutex: Pebble has no conditional
// writes, and the directory lock already limits a database to one process.
type Driver struct {
	db   *db
	name string
	now  func() time.Time
	mu   sync.Mutex
}

// Option configures a Driver.
type Option interface {
	apply(*Driver)
}

type optionFunc func(*Driver)

func (f optionFunc) apply(d *Driver) { f(d) }

// WithName sets the backend name recorded on pushed jobs.
func WithName(name string) Option {
	return optionFunc(func(d *Driver) {
		d.name = name
	})
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(d *Driver) {
		d.now = func() time.Time { return now().UTC() }
	})
}

// Open opens or creates the database at opts.DataDir.
func Open(opts Options, options ...Option) (*Driver, error) {
	inner, err := openDB(opts)
	if err != nil {
		return nil, core.Infra("open", err)
	}
	d := &Driver{
		db:   inner,
		name: DriverName,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt.apply(d)
	}
	return d, nil
}

// Close flushes and closes the database.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.close()
}

// Name implements core.Driver.
func (d *Driver) Name() string {
	return d.name
}

func (d *Driver) prepare(job *core.Job, now time.Time) {
	if job.ID == "" {
		job.ID = core.NewJobID()
	}
	if job.Queue == "" {
		job.Queue = core.DefaultQueue
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	job.AvailableAt = job.AvailableAt.UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.Priority = security.ClampPriority(job.Priority)
	job.Reserved = false
	job.ReservedBy = ""
	job.ReservedAt = nil
	job.Backend = d.name
}

// index writes job and the set entry matching its state.
func (d *Driver) index(b *pebble.Batch, job *core.Job, now time.Time) error {
	data, err := codec.Encode(job)
	if err != nil {
		return err
	}
	if err := b.Set(jobKey(job.ID), data, nil); err != nil {
		return err
	}
	switch {
	case job.Reserved && job.ReservedAt != nil:
		err = b.Set(reservedKey(job.Queue, *job.ReservedAt, job.ID), nil, nil)
	case job.AvailableAt.After(now):
		err = b.Set(delayedKey(job.Queue, job.AvailableAt, job.ID), nil, nil)
	default:
		err = b.Set(readyKey(job.Queue, job.Priority, job.AvailableAt, job.ID), nil, nil)
	}
	if err != nil {
		return err
	}
	if job.BatchID != nil {
		if err := b.Set(batchKey(*job.BatchID, job.ID), nil, nil); err != nil {
			return err
		}
	}
	return b.Set(queueKey(job.Queue), nil, nil)
}

// unindex removes job and every set entry it may occupy.
func (d *Driver) unindex(b *pebble.Batch, job *core.Job) error {
	keys := [][]byte{
		jobKey(job.ID),
		readyKey(job.Queue, job.Priority, job.AvailableAt, job.ID),
		delayedKey(job.Queue, job.AvailableAt, job.ID),
	}
	if job.ReservedAt != nil {
		keys = append(keys, reservedKey(job.Queue, *job.ReservedAt, job.ID))
	}
	if job.BatchID != nil {
		keys = append(keys, batchKey(*job.BatchID, job.ID))
	}
	for _, key := range keys {
		if err := b.Delete(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Push adds a job to the queue.
func (d *Driver) Push(ctx context.Context, job *core.Job) error {
	return d.PushBatch(ctx, []*core.Job{job})
}

// PushBatch adds several jobs in one atomic batch.
func (d *Driver) PushBatch(ctx context.Context, jobs []*core.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.db.inner.NewBatch()
	for _, job := range jobs {
		d.prepare(job, now)
		if err := d.index(b, job, now); err != nil {
			b.Close()
			if errors.Is(err, codec.ErrInvalidPayload) {
				return err
			}
			return core.Infra("push", err)
		}
	}
	return core.Infra("push", d.db.commit(b))
}

// load reads and decodes a job. A missing job returns core.ErrJobNotFound.
func (d *Driver) load(id string) (*core.Job, error) {
	data, err := d.db.get(jobKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// promote moves delayed jobs of queue whose time has come into the ready set.
func (d *Driver) promote(queue string, now time.Time) error {
	prefix := setPrefix(prefixDelayed, queue)
	var due []string
	err := d.db.scan(prefix, timedBound(prefix, now), func(key, _ []byte) (bool, error) {
		_, id := timedEntry(prefix, key)
		due = append(due, id)
		return true, nil
	})
	if err != nil || len(due) == 0 {
		return err
	}

	b := d.db.inner.NewBatch()
	for _, id := range due {
		job, err := d.load(id)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		if err != nil {
			b.Close()
			return err
		}
		if err := b.Delete(delayedKey(queue, job.AvailableAt, id), nil); err != nil {
			b.Close()
			return err
		}
		if err := b.Set(readyKey(queue, job.Priority, job.AvailableAt, id), nil, nil); err != nil {
			b.Close()
			return err
		}
	}
	return d.db.commit(b)
}

// Pop reserves the highest-priority, earliest-available job of queue.
// Due delayed jobs are promoted first. Returns nil when nothing is ready.
func (d *Driver) Pop(ctx context.Context, queue string, owner string) (*core.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.promote(queue, now); err != nil {
		return nil, core.Infra("pop", err)
	}

	prefix := setPrefix(prefixReady, queue)
	var head []byte
	err := d.db.scan(prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
		head = key
		return false, nil
	})
	if err != nil {
		return nil, core.Infra("pop", err)
	}
	if head == nil {
		return nil, nil
	}

	job, err := d.load(readyID(prefix, head))
	if errors.Is(err, core.ErrJobNotFound) {
		// Orphaned index entry; drop it so the next pop moves on.
		b := d.db.inner.NewBatch()
		_ = b.Delete(head, nil)
		return nil, core.Infra("pop", d.db.commit(b))
	}
	if err != nil {
		return nil, core.Infra("pop", err)
	}

	job.Reserved = true
	job.ReservedBy = owner
	job.ReservedAt = &now
	job.Attempts++

	b := d.db.inner.NewBatch()
	if err := b.Delete(head, nil); err != nil {
		b.Close()
		return nil, core.Infra("pop", err)
	}
	if err := d.index(b, job, now); err != nil {
		b.Close()
		return nil, core.Infra("pop", err)
	}
	if err := d.db.commit(b); err != nil {
		return nil, core.Infra("pop", err)
	}
	return job, nil
}

// owned loads a job and checks that owner holds its reservation.
func (d *Driver) owned(id, owner string) (*core.Job, error) {
	job, err := d.load(id)
	if err != nil {
		return nil, err
	}
	if !job.OwnedBy(owner) {
		return nil, core.ErrJobNotOwned
	}
	return job, nil
}

// Release returns a reserved job to the pool, available again at
// availableAt. When attempt is non-nil it is appended to the job history,
// otherwise the attempt counted by Pop is returned.
func (d *Driver) Release(ctx context.Context, jobID string, owner string, availableAt time.Time, attempt *core.AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.owned(jobID, owner)
	if err != nil {
		return core.Infra("release", err)
	}

	b := d.db.inner.NewBatch()
	if err := b.Delete(reservedKey(job.Queue, *job.ReservedAt, job.ID), nil); err != nil {
		b.Close()
		return core.Infra("release", err)
	}
	job.Reserved = false
	job.ReservedBy = ""
	job.ReservedAt = nil
	job.AvailableAt = availableAt.UTC()
	if attempt != nil {
		rec := *attempt
		rec.At = rec.At.UTC()
		rec.Error = security.SanitizeErrorMessage(rec.Error)
		job.History = append(job.History, rec)
		job.LastError = rec.Error
	} else if job.Attempts > 0 {
		job.Attempts--
	}
	if err := d.index(b, job, now); err != nil {
		b.Close()
		return core.Infra("release", err)
	}
	return core.Infra("release", d.db.commit(b))
}

// Delete removes a completed job. Validates that the worker owns it.
func (d *Driver) Delete(ctx context.Context, jobID string, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.owned(jobID, owner)
	if err != nil {
		return core.Infra("delete", err)
	}
	b := d.db.inner.NewBatch()
	if err := d.unindex(b, job); err != nil {
		b.Close()
		return core.Infra("delete", err)
	}
	return core.Infra("delete", d.db.commit(b))
}

// Remove deletes an unreserved job.
func (d *Driver) Remove(ctx context.Context, jobID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.load(jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, core.Infra("remove", err)
	}
	if job.Reserved {
		return false, nil
	}
	b := d.db.inner.NewBatch()
	if err := d.unindex(b, job); err != nil {
		b.Close()
		return false, core.Infra("remove", err)
	}
	if err := d.db.commit(b); err != nil {
		return false, core.Infra("remove", err)
	}
	return true, nil
}

// RemoveBatch deletes every unreserved member of a batch.
func (d *Driver) RemoveBatch(ctx context.Context, batchID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := setPrefix(prefixBatch, batchID)
	var ids []string
	err := d.db.scan(prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
		ids = append(ids, string(key[len(prefix):]))
		return true, nil
	})
	if err != nil {
		return 0, core.Infra("remove batch", err)
	}

	var removed int64
	b := d.db.inner.NewBatch()
	for _, id := range ids {
		job, err := d.load(id)
		if errors.Is(err, core.ErrJobNotFound) {
			_ = b.Delete(batchKey(batchID, id), nil)
			continue
		}
		if err != nil {
			b.Close()
			return 0, core.Infra("remove batch", err)
		}
		if job.Reserved {
			continue
		}
		if err := d.unindex(b, job); err != nil {
			b.Close()
			return 0, core.Infra("remove batch", err)
		}
		removed++
	}
	if err := d.db.commit(b); err != nil {
		return 0, core.Infra("remove batch", err)
	}
	return removed, nil
}

// Get retrieves a job by ID.
func (d *Driver) Get(ctx context.Context, jobID string) (*core.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := d.load(jobID)
	return job, core.Infra("get", err)
}

func (d *Driver) count(lower, upper []byte) (int64, error) {
	var n int64
	err := d.db.scan(lower, upper, func(_, _ []byte) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// Size counts the jobs of queue that are ready to run, including delayed
// jobs whose time has passed but which no pop has promoted yet.
func (d *Driver) Size(ctx context.Context, queue string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ready := setPrefix(prefixReady, queue)
	n, err := d.count(ready, upperBound(ready))
	if err != nil {
		return 0, core.Infra("size", err)
	}
	delayed := setPrefix(prefixDelayed, queue)
	due, err := d.count(delayed, timedBound(delayed, d.now()))
	if err != nil {
		return 0, core.Infra("size", err)
	}
	return n + due, nil
}

// Stats summarises queue. Failed is left at zero; failed jobs live in the
// coordination store.
func (d *Driver) Stats(ctx context.Context, queue string) (core.QueueStats, error) {
	st := core.QueueStats{Queue: queue}
	pending, err := d.Size(ctx, queue)
	if err != nil {
		return st, err
	}
	st.Pending = pending

	now := d.now()
	delayed := setPrefix(prefixDelayed, queue)
	if st.Delayed, err = d.count(timedBound(delayed, now), upperBound(delayed)); err != nil {
		return st, core.Infra("stats", err)
	}
	reserved := setPrefix(prefixReserved, queue)
	if st.Reserved, err = d.count(reserved, upperBound(reserved)); err != nil {
		return st, core.Infra("stats", err)
	}
	return st, nil
}

// Queues lists every queue that has held a job.
func (d *Driver) Queues(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(prefixQueue)
	var queues []string
	err := d.db.scan(prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
		queues = append(queues, string(key[len(prefix):]))
		return true, nil
	})
	if err != nil {
		return nil, core.Infra("queues", err)
	}
	sort.Strings(queues)
	return queues, nil
}

// Clear deletes every live job of queue, reserved or not.
func (d *Driver) Clear(ctx context.Context, queue string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids := map[string]struct{}{}
	collect := func(prefix []byte, id func(key []byte) string) error {
		return d.db.scan(prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
			ids[id(key)] = struct{}{}
			return true, nil
		})
	}
	ready := setPrefix(prefixReady, queue)
	if err := collect(ready, func(key []byte) string { return readyID(ready, key) }); err != nil {
		return 0, core.Infra("clear", err)
	}
	for _, p := range []string{prefixDelayed, prefixReserved} {
		prefix := setPrefix(p, queue)
		err := collect(prefix, func(key []byte) string {
			_, id := timedEntry(prefix, key)
			return id
		})
		if err != nil {
			return 0, core.Infra("clear", err)
		}
	}

	var cleared int64
	b := d.db.inner.NewBatch()
	for id := range ids {
		job, err := d.load(id)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		if err != nil {
			b.Close()
			return 0, core.Infra("clear", err)
		}
		if err := d.unindex(b, job); err != nil {
			b.Close()
			return 0, core.Infra("clear", err)
		}
		cleared++
	}
	for _, p := range []string{prefixReady, prefixDelayed, prefixReserved} {
		prefix := setPrefix(p, queue)
		if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
			b.Close()
			return 0, core.Infra("clear", err)
		}
	}
	return cleared, core.Infra("clear", d.db.commit(b))
}

// ReleaseStuck returns reservations older than olderThan to the pool. Their
// consumed attempt stays counted. An empty queue means every queue.
func (d *Driver) ReleaseStuck(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := d.now()
	cutoff := now.Add(-olderThan)

	d.mu.Lock()
	defer d.mu.Unlock()

	type stuck struct {
		key []byte
		id  string
	}
	var found []stuck
	scanQueue := func(prefix []byte) error {
		return d.db.scan(prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
			ms, id := timedEntry(prefix, key)
			if ms >= unixMs(cutoff) {
				return false, nil
			}
			found = append(found, stuck{key: key, id: id})
			return true, nil
		})
	}

	if queue != "" {
		if err := scanQueue(setPrefix(prefixReserved, queue)); err != nil {
			return 0, core.Infra("release stuck", err)
		}
	} else {
		all := []byte(prefixReserved)
		var prefixes [][]byte
		err := d.db.scan(all, upperBound(all), func(key, _ []byte) (bool, error) {
			_, prefix := timedQueue(prefixReserved, key)
			if prefix != nil && (len(prefixes) == 0 || string(prefixes[len(prefixes)-1]) != string(prefix)) {
				prefixes = append(prefixes, append([]byte(nil), prefix...))
			}
			return true, nil
		})
		if err != nil {
			return 0, core.Infra("release stuck", err)
		}
		for _, prefix := range prefixes {
			if err := scanQueue(prefix); err != nil {
				return 0, core.Infra("release stuck", err)
			}
		}
	}

	var released int64
	b := d.db.inner.NewBatch()
	for _, s := range found {
		if err := b.Delete(s.key, nil); err != nil {
			b.Close()
			return 0, core.Infra("release stuck", err)
		}
		job, err := d.load(s.id)
		if errors.Is(err, core.ErrJobNotFound) {
			continue
		}
		if err != nil {
			b.Close()
			return 0, core.Infra("release stuck", err)
		}
		job.Reserved = false
		job.ReservedBy = ""
		job.ReservedAt = nil
		if err := d.index(b, job, now); err != nil {
			b.Close()
			return 0, core.Infra("release stuck", err)
		}
		released++
	}
	return released, core.Infra("release stuck", d.db.commit(b))
}

var _ core.Driver = (*Driver)(nil)
