package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/queue"
	"github.com/jdziat/durable-queue/pkg/security"
)

// Orchestrator dispatches chains and advances them from queue hooks.
type Orchestrator struct {
	queue  *queue.Queue
	store  core.ChainStore
	logger *slog.Logger
}

// New creates an Orchestrator and registers its hooks on q. Every process
// running workers for chain steps must create one.
func New(q *queue.Queue) *Orchestrator {
	o := &Orchestrator{
		queue:  q,
		store:  q.Storage(),
		logger: q.Logger(),
	}
	q.OnJobStart(o.onStart)
	q.OnJobComplete(o.onComplete)
	q.OnJobFail(o.onFail)
	return o
}

// Dispatch stores the chain and submits its first step.
func (o *Orchestrator) Dispatch(ctx context.Context, def Definition) (*core.Chain, error) {
	if len(def.Steps) == 0 {
		return nil, core.ErrEmptyChain
	}
	if def.Queue != "" {
		if err := security.ValidateQueueName(def.Queue); err != nil {
			return nil, err
		}
	}

	steps := make([]core.ChainStep, len(def.Steps))
	for i, s := range def.Steps {
		if !o.queue.HasHandler(s.Type) {
			return nil, fmt.Errorf("chain step %d: %w for %q", i, core.ErrNoHandler, s.Type)
		}
		step, err := encodeStep(s)
		if err != nil {
			return nil, fmt.Errorf("chain step %d: %w", i, err)
		}
		steps[i] = step
	}
	onSuccess, err := queue.EncodeCallbacks(def.OnSuccess)
	if err != nil {
		return nil, err
	}
	onFailure, err := queue.EncodeCallbacks(def.OnFailure)
	if err != nil {
		return nil, err
	}

	c := &core.Chain{
		ID:        core.NewJobID(),
		Name:      def.Name,
		Queue:     def.Queue,
		Steps:     steps,
		Status:    core.ChainPending,
		OnSuccess: onSuccess,
		OnFailure: onFailure,
	}
	if err := o.store.CreateChain(ctx, c); err != nil {
		return nil, fmt.Errorf("chain: failed to create: %w", err)
	}

	jobID, err := o.dispatchStep(ctx, c, 0)
	if err != nil {
		o.finish(ctx, c, core.ChainFailed, err.Error())
		return nil, err
	}
	c.CurrentJobID = jobID

	o.logger.Debug("chain dispatched", "chain_id", c.ID, "steps", len(steps))
	return c, nil
}

func encodeStep(s Step) (core.ChainStep, error) {
	payload, err := codec.EncodeArgs(s.Args)
	if err != nil {
		return core.ChainStep{}, err
	}
	opts := &queue.Options{}
	for _, opt := range s.Options {
		opt.Apply(opts)
	}
	return core.ChainStep{
		Type:              s.Type,
		Args:              payload,
		Queue:             opts.Queue,
		Priority:          opts.Priority,
		Delay:             opts.Delay,
		MaxAttempts:       opts.MaxAttempts,
		ContinueOnFailure: s.ContinueOnFailure,
	}, nil
}

// dispatchStep submits step idx of c and records its job id.
func (o *Orchestrator) dispatchStep(ctx context.Context, c *core.Chain, idx int) (string, error) {
	step := c.Steps[idx]
	target := step.Queue
	if target == "" {
		target = c.Queue
	}
	if target == "" {
		target = core.DefaultQueue
	}

	opts := []queue.Option{
		queue.QueueOpt(target),
		queue.Priority(step.Priority),
		queue.InChain(c.ID, idx),
	}
	if step.Delay > 0 {
		opts = append(opts, queue.Delay(step.Delay))
	}
	if step.MaxAttempts > 0 {
		opts = append(opts, queue.MaxAttempts(step.MaxAttempts))
	}

	jobID, err := o.queue.Submit(ctx, step.Type, queue.RawArgs(step.Args), opts...)
	if err != nil {
		return "", fmt.Errorf("chain: failed to dispatch step %d: %w", idx, err)
	}
	if err := o.store.SetChainJob(ctx, c.ID, jobID); err != nil {
		return jobID, err
	}
	return jobID, nil
}

// Get returns a chain by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*core.Chain, error) {
	return o.store.GetChain(ctx, id)
}

// Cancel stops the chain and removes its current step if no worker has
// claimed it yet. It reports false if the chain had already finished.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	c, err := o.store.GetChain(ctx, id)
	if err != nil {
		return false, err
	}
	won, err := o.store.TransitionChain(ctx, id,
		[]core.ChainStatus{core.ChainPending, core.ChainRunning}, core.ChainCancelled, "cancelled")
	if err != nil || !won {
		return false, err
	}

	if c.CurrentJobID != "" {
		o.removeJob(ctx, c.CurrentJobID)
	}
	// A concurrent advance may have dispatched the next step since c was
	// read; its job id is only visible now.
	if latest, err := o.store.GetChain(ctx, id); err == nil {
		if latest.CurrentJobID != "" && latest.CurrentJobID != c.CurrentJobID {
			o.removeJob(ctx, latest.CurrentJobID)
		}
	} else {
		o.logger.Warn("failed to reload cancelled chain", "chain_id", id, "error", err)
	}
	o.logger.Info("chain cancelled", "chain_id", id, "step", c.CurrentStep)
	o.queue.Emit(&core.ChainFinished{ChainID: id, Status: core.ChainCancelled, Timestamp: o.queue.Now()})
	return true, nil
}

func (o *Orchestrator) removeJob(ctx context.Context, jobID string) {
	job, err := o.queue.Job(ctx, jobID)
	if err != nil {
		if !errors.Is(err, core.ErrJobNotFound) {
			o.logger.Warn("failed to look up chain step", "job_id", jobID, "error", err)
		}
		return
	}
	d, err := o.queue.DriverOf(job)
	if err != nil {
		o.logger.Warn("failed to resolve chain step backend", "job_id", jobID, "error", err)
		return
	}
	removed, err := d.Remove(ctx, jobID)
	if err != nil {
		o.logger.Warn("failed to remove chain step", "job_id", jobID, "error", err)
		return
	}
	if removed {
		o.queue.ReleaseUnique(ctx, job)
	}
}

// load returns the chain a job belongs to, or nil when the job is not a
// live step of a running chain.
func (o *Orchestrator) load(ctx context.Context, job *core.Job) *core.Chain {
	if job.ChainID == nil {
		return nil
	}
	c, err := o.store.GetChain(ctx, *job.ChainID)
	if err != nil {
		o.logger.Error("failed to load chain", "chain_id", *job.ChainID, "job_id", job.ID, "error", err)
		return nil
	}
	if c.Status.Terminal() || c.CurrentStep != job.ChainStep {
		return nil
	}
	return c
}

func (o *Orchestrator) onStart(ctx context.Context, job *core.Job) {
	if job.ChainID == nil {
		return
	}
	_, err := o.store.TransitionChain(ctx, *job.ChainID,
		[]core.ChainStatus{core.ChainPending}, core.ChainRunning, "")
	if err != nil {
		o.logger.Warn("failed to mark chain running", "chain_id", *job.ChainID, "error", err)
	}
}

func (o *Orchestrator) onComplete(ctx context.Context, job *core.Job) {
	if c := o.load(ctx, job); c != nil {
		o.advance(ctx, c, job.ChainStep)
	}
}

func (o *Orchestrator) onFail(ctx context.Context, job *core.Job, cause error) {
	c := o.load(ctx, job)
	if c == nil {
		return
	}
	if c.Steps[job.ChainStep].ContinueOnFailure {
		o.logger.Info("chain step failed, continuing",
			"chain_id", c.ID,
			"step", job.ChainStep,
			"error", cause)
		o.advance(ctx, c, job.ChainStep)
		return
	}
	msg := fmt.Sprintf("step %d (%s) failed: %v", job.ChainStep, job.Type, cause)
	o.finish(ctx, c, core.ChainFailed, msg)
}

// advance moves c past step `from`, dispatching the next step or
// completing the chain. Only the worker that wins the compare-and-set
// dispatches.
func (o *Orchestrator) advance(ctx context.Context, c *core.Chain, from int) {
	next := from + 1
	won, err := o.store.AdvanceChain(ctx, c.ID, from, "")
	if err != nil {
		o.logger.Error("failed to advance chain", "chain_id", c.ID, "step", from, "error", err)
		return
	}
	if !won {
		return
	}

	if next >= len(c.Steps) {
		o.finish(ctx, c, core.ChainCompleted, "")
		return
	}
	jobID, err := o.dispatchStep(ctx, c, next)
	if err != nil {
		o.logger.Error("failed to dispatch chain step", "chain_id", c.ID, "step", next, "error", err)
		o.finish(ctx, c, core.ChainFailed, err.Error())
		return
	}

	// Cancel may have won between the compare-and-set and the submit.
	latest, err := o.store.GetChain(ctx, c.ID)
	if err != nil {
		o.logger.Warn("failed to reload chain after dispatch", "chain_id", c.ID, "error", err)
		return
	}
	if latest.Status.Terminal() {
		o.logger.Info("chain finished during dispatch, removing step", "chain_id", c.ID, "step", next, "job_id", jobID)
		o.removeJob(ctx, jobID)
	}
}

// finish moves c to a terminal status once and submits the matching
// callbacks.
func (o *Orchestrator) finish(ctx context.Context, c *core.Chain, status core.ChainStatus, lastError string) {
	won, err := o.store.TransitionChain(ctx, c.ID,
		[]core.ChainStatus{core.ChainPending, core.ChainRunning}, status, lastError)
	if err != nil {
		o.logger.Error("failed to finish chain", "chain_id", c.ID, "status", status, "error", err)
		return
	}
	if !won {
		return
	}

	callbacks := c.OnSuccess
	if status == core.ChainFailed {
		callbacks = c.OnFailure
	}
	if err := o.queue.SubmitCallbacks(ctx, callbacks, c.Queue); err != nil {
		o.logger.Error("chain callbacks incomplete", "chain_id", c.ID, "error", err)
	}

	o.logger.Info("chain finished", "chain_id", c.ID, "status", status)
	o.queue.Emit(&core.ChainFinished{ChainID: c.ID, Status: status, Timestamp: o.queue.Now()})
}
