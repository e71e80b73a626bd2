package queue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Descriptor describes one job of a bulk submit.
type Descriptor struct {
	Name    string
	Args    any
	Options []Option
}

// prepared is a job ready to be pushed. A unique job whose lock is held by
// another live job carries that job's id in existing instead.
type prepared struct {
	job      *core.Job
	driver   core.Driver
	existing string
}

// Submit adds a job to the queue and returns its id. A unique job whose
// identity is already locked returns the id of the live job instead, and
// a queue over its rate limit returns a *core.RateLimitedError.
func (q *Queue) Submit(ctx context.Context, name string, args any, opts ...Option) (string, error) {
	ids, err := q.BulkSubmit(ctx, []Descriptor{{Name: name, Args: args, Options: opts}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// BulkSubmit adds several jobs, one PushBatch per backend. The returned ids
// follow the order of descs. If any job is rejected nothing is pushed.
func (q *Queue) BulkSubmit(ctx context.Context, descs []Descriptor) ([]string, error) {
	ready := make([]*prepared, 0, len(descs))
	abort := func(err error) ([]string, error) {
		for _, p := range ready {
			q.ReleaseUnique(ctx, p.job)
		}
		return nil, err
	}

	for _, d := range descs {
		p, err := q.prepare(ctx, d)
		if err != nil {
			return abort(err)
		}
		ready = append(ready, p)
	}

	var order []core.Driver
	groups := make(map[core.Driver][]*core.Job)
	for _, p := range ready {
		if p.existing != "" {
			continue
		}
		if _, ok := groups[p.driver]; !ok {
			order = append(order, p.driver)
		}
		groups[p.driver] = append(groups[p.driver], p.job)
	}
	for _, d := range order {
		if err := d.PushBatch(ctx, groups[d]); err != nil {
			return abort(fmt.Errorf("queue: failed to enqueue: %w", err))
		}
	}

	now := q.now()
	ids := make([]string, len(ready))
	for i, p := range ready {
		if p.existing != "" {
			ids[i] = p.existing
			q.logger.Debug("duplicate unique job",
				"job_type", p.job.Type,
				"queue", p.job.Queue,
				"existing_id", p.existing)
			continue
		}
		ids[i] = p.job.ID
		q.logger.Debug("job queued",
			"job_id", p.job.ID,
			"job_type", p.job.Type,
			"queue", p.job.Queue,
			"backend", p.job.Backend)
		q.CallQueuedHooks(ctx, p.job)
		q.Emit(&core.JobQueued{Job: p.job, Timestamp: now})
	}
	return ids, nil
}

func (q *Queue) prepare(ctx context.Context, d Descriptor) (*prepared, error) {
	q.mu.RLock()
	reg, ok := q.handlers[d.Name]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %q", core.ErrNoHandler, d.Name)
	}

	o := NewOptions()
	for _, opt := range reg.defaults {
		opt.Apply(o)
	}
	for _, opt := range d.Options {
		opt.Apply(o)
	}

	if err := security.ValidateQueueName(o.Queue); err != nil {
		return nil, err
	}
	payload, err := codec.EncodeArgs(d.Args)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to marshal args: %w", err)
	}
	if err := security.ValidateArgs(payload); err != nil {
		return nil, err
	}

	cfg := q.QueueConfig(o.Queue)
	driver, err := q.DriverFor(o.Queue)
	if err != nil {
		return nil, err
	}

	now := q.now()
	job := &core.Job{
		ID:          core.NewJobID(),
		Type:        d.Name,
		Queue:       o.Queue,
		Payload:     payload,
		MaxAttempts: q.maxAttempts(o.MaxAttempts, cfg),
		Priority:    o.Priority,
		AvailableAt: now,
		Timeout:     o.Timeout,
		ChainStep:   o.ChainStep,
		CreatedAt:   now,
	}
	if o.Delay > 0 {
		job.AvailableAt = now.Add(o.Delay)
	}
	if o.RunAt != nil {
		job.AvailableAt = o.RunAt.UTC()
	}
	if o.ChainID != "" {
		job.ChainID = &o.ChainID
	}
	if o.BatchID != "" {
		job.BatchID = &o.BatchID
	}

	p := &prepared{job: job, driver: driver}

	if o.Unique {
		key := o.UniqueKey
		if key == "" {
			key = DefaultUniqueKey(d.Name, o.Queue, payload)
		} else if err := security.ValidateUniqueKey(key); err != nil {
			return nil, err
		}
		ttl := o.UniqueFor
		if ttl <= 0 {
			ttl = cfg.UniqueFor
		}
		if ttl <= 0 {
			ttl = DefaultUniqueFor
		}
		holder, acquired, err := q.storage.AcquireUnique(ctx, key, job.ID, ttl)
		if err != nil {
			return nil, err
		}
		if !acquired {
			p.existing = holder
			return p, nil
		}
		job.UniqueKey = key
	}

	if cfg.RateLimit.Enabled() {
		allowed, wait, err := q.storage.HitRate(ctx, "queue:"+o.Queue, cfg.RateLimit.Max, cfg.RateLimit.Window)
		if err == nil && !allowed {
			err = &core.RateLimitedError{Queue: o.Queue, RetryAfter: wait}
		}
		if err != nil {
			q.ReleaseUnique(ctx, job)
			return nil, err
		}
	}

	return p, nil
}

// Push routes a pre-built job to its queue's backend, bypassing uniqueness
// and rate limits. Recovery, failed-job retries and callbacks use it.
func (q *Queue) Push(ctx context.Context, job *core.Job) error {
	if err := security.ValidateJobTypeName(job.Type); err != nil {
		return err
	}
	if job.Queue == "" {
		job.Queue = core.DefaultQueue
	}
	if err := security.ValidateQueueName(job.Queue); err != nil {
		return err
	}
	driver, err := q.DriverFor(job.Queue)
	if err != nil {
		return err
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts(0, q.QueueConfig(job.Queue))
	}
	if err := driver.Push(ctx, job); err != nil {
		return fmt.Errorf("queue: failed to enqueue: %w", err)
	}
	q.CallQueuedHooks(ctx, job)
	q.Emit(&core.JobQueued{Job: job, Timestamp: q.now()})
	return nil
}

// ReleaseUnique frees the uniqueness lock held by job, if any. Failures are
// logged; the lock then lapses at its expiry.
func (q *Queue) ReleaseUnique(ctx context.Context, job *core.Job) {
	if job == nil || job.UniqueKey == "" {
		return
	}
	if err := q.storage.ReleaseUnique(ctx, job.UniqueKey, job.ID); err != nil {
		q.logger.Warn("failed to release unique lock",
			"job_id", job.ID,
			"unique_key", job.UniqueKey,
			"error", err)
	}
}

// DefaultUniqueKey derives the identity of a unique job from its type,
// queue and arguments. Arguments are canonicalised first, so key order in
// JSON objects does not matter.
func DefaultUniqueKey(name, queue string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(queue))
	h.Write([]byte{0})
	h.Write(canonicalJSON(payload))
	return "unique:" + hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}
