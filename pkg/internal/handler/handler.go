package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jdziat/durable-queue/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	outcomeType = reflect.TypeOf(core.Outcome{})
	jobPtrType  = reflect.TypeOf((*core.Job)(nil))
)

// Handler holds metadata about a registered job handler.
type Handler struct {
	Fn         reflect.Value
	ArgsType   reflect.Type
	HasContext bool
	// WantsJob is set when the argument is *core.Job rather than decoded args.
	WantsJob       bool
	ReturnsOutcome bool
}

// NewHandler creates a Handler from a function.
// Accepted signatures:
//
//	func(ctx context.Context, args T) error
//	func(ctx context.Context, args T) core.Outcome
//	func(ctx context.Context, job *core.Job) error
//	func(ctx context.Context) error
//
// The context parameter is optional in every form.
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)

	// Check for typed nil (e.g., var fn func() = nil)
	if !fnVal.IsValid() || (fnVal.Kind() == reflect.Func && fnVal.IsNil()) {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()

	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}

	h := &Handler{Fn: fnVal}

	numIn := fnType.NumIn()
	if numIn > 2 {
		return nil, fmt.Errorf("handler must have at most 2 arguments")
	}

	argIdx := 0
	if numIn > 0 && fnType.In(0).Implements(contextType) {
		h.HasContext = true
		argIdx = 1
	}
	if numIn == 2 && !h.HasContext {
		return nil, fmt.Errorf("handler first argument must be context.Context")
	}
	if argIdx < numIn {
		h.ArgsType = fnType.In(argIdx)
		h.WantsJob = h.ArgsType == jobPtrType
	}

	if fnType.NumOut() != 1 {
		return nil, fmt.Errorf("handler must return error or core.Outcome")
	}
	switch out := fnType.Out(0); {
	case out == outcomeType:
		h.ReturnsOutcome = true
	case out.Implements(errorType):
	default:
		return nil, fmt.Errorf("handler must return error or core.Outcome")
	}

	return h, nil
}

// Decode unmarshals a payload into the handler's argument type. It is used
// both before execution and to check that a persisted payload can still be
// rebuilt.
func (h *Handler) Decode(payload []byte) (reflect.Value, error) {
	argVal := reflect.New(h.ArgsType)
	if len(payload) == 0 {
		return argVal.Elem(), nil
	}
	if err := json.Unmarshal(payload, argVal.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return argVal.Elem(), nil
}

// Execute runs the handler for job and maps its result onto an Outcome.
// A payload that does not decode is a permanent failure.
func (h *Handler) Execute(ctx context.Context, job *core.Job) core.Outcome {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return core.Permanent(fmt.Errorf("handler function is nil or invalid"))
	}

	var args []reflect.Value

	if h.HasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	switch {
	case h.WantsJob:
		args = append(args, reflect.ValueOf(job))
	case h.ArgsType != nil:
		argVal, err := h.Decode(job.Payload)
		if err != nil {
			return core.Permanent(err)
		}
		args = append(args, argVal)
	}

	results := h.Fn.Call(args)

	if h.ReturnsOutcome {
		return results[0].Interface().(core.Outcome)
	}
	if results[0].IsNil() {
		return core.Success()
	}
	return core.FromError(results[0].Interface().(error))
}
