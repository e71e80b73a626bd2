package chain

import (
	"github.com/jdziat/durable-queue/pkg/queue"
)

// Step is one job of a chain.
type Step struct {
	Type    string
	Args    any
	Options []queue.Option
	// ContinueOnFailure lets the chain go on when this step fails
	// terminally.
	ContinueOnFailure bool
}

// Then creates a step. Queue, priority, delay and max attempts are taken
// from opts; other options are ignored.
func Then(jobType string, args any, opts ...queue.Option) Step {
	return Step{Type: jobType, Args: args, Options: opts}
}

// AllowFailure returns a copy of the step that does not stop the chain
// when it fails.
func (s Step) AllowFailure() Step {
	s.ContinueOnFailure = true
	return s
}

// Definition describes a chain to dispatch.
type Definition struct {
	Name string
	// Queue is used by steps and callbacks that name none.
	Queue     string
	Steps     []Step
	OnSuccess []queue.Callback
	OnFailure []queue.Callback
}

// Option configures a Definition.
type Option interface {
	apply(*Definition)
}

type optionFunc func(*Definition)

func (f optionFunc) apply(d *Definition) { f(d) }

// Define builds a Definition from steps.
func Define(steps []Step, opts ...Option) Definition {
	def := Definition{Steps: steps}
	for _, opt := range opts {
		opt.apply(&def)
	}
	return def
}

// Named sets the chain name.
func Named(name string) Option {
	return optionFunc(func(d *Definition) {
		d.Name = name
	})
}

// WithQueue sets the default queue of steps and callbacks.
func WithQueue(q string) Option {
	return optionFunc(func(d *Definition) {
		d.Queue = q
	})
}

// OnSuccess adds a job submitted once every step succeeded.
func OnSuccess(jobType string, args any) Option {
	return optionFunc(func(d *Definition) {
		d.OnSuccess = append(d.OnSuccess, queue.Callback{Name: jobType, Args: args})
	})
}

// OnFailure adds a job submitted when a step fails and the chain stops.
func OnFailure(jobType string, args any) Option {
	return optionFunc(func(d *Definition) {
		d.OnFailure = append(d.OnFailure, queue.Callback{Name: jobType, Args: args})
	})
}
