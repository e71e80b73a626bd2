package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jdziat/durable-queue/pkg/codec"
	"github.com/jdziat/durable-queue/pkg/core"
)

// Callback names a job to submit when a chain or batch settles.
type Callback struct {
	Name  string
	Args  any
	Queue string
}

// EncodeCallbacks converts callbacks to their stored form.
func EncodeCallbacks(cbs []Callback) ([]core.Callback, error) {
	out := make([]core.Callback, 0, len(cbs))
	for _, cb := range cbs {
		enc, err := NewCallback(cb.Name, cb.Args, cb.Queue)
		if err != nil {
			return nil, fmt.Errorf("callback %q: %w", cb.Name, err)
		}
		out = append(out, enc)
	}
	return out, nil
}

// NewCallback describes a job submitted when a chain or batch settles. An
// empty queueName falls back to the owner's queue.
func NewCallback(name string, args any, queueName string) (core.Callback, error) {
	payload, err := codec.EncodeArgs(args)
	if err != nil {
		return core.Callback{}, err
	}
	return core.Callback{Type: name, Args: payload, Queue: queueName}, nil
}

// RawArgs turns a stored payload back into submit arguments.
func RawArgs(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return payload
}

// SubmitCallbacks submits every callback, using queueName for callbacks that
// name no queue. All callbacks are attempted; the errors are joined.
func (q *Queue) SubmitCallbacks(ctx context.Context, cbs []core.Callback, queueName string) error {
	var errs []error
	for _, cb := range cbs {
		target := cb.Queue
		if target == "" {
			target = queueName
		}
		if target == "" {
			target = core.DefaultQueue
		}
		if _, err := q.Submit(ctx, cb.Type, RawArgs(cb.Args), QueueOpt(target)); err != nil {
			q.logger.Error("failed to submit callback",
				"job_type", cb.Type,
				"queue", target,
				"error", err)
			errs = append(errs, fmt.Errorf("callback %q: %w", cb.Type, err))
		}
	}
	return errors.Join(errs...)
}
