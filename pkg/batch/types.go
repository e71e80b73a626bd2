package batch

import (
	"github.com/jdziat/durable-queue/pkg/queue"
)

// Member is one job of a batch.
type Member struct {
	Type    string
	Args    any
	Options []queue.Option
}

// Job creates a batch member. opts are applied on top of the batch
// defaults.
func Job(jobType string, args any, opts ...queue.Option) Member {
	return Member{Type: jobType, Args: args, Options: opts}
}

// Definition describes a batch to dispatch.
type Definition struct {
	Name    string
	Queue   string
	Members []Member
	// Defaults apply to every member before its own options.
	Defaults []queue.Option

	// AllowFailures keeps the batch going when members fail. Without it
	// the first failure cancels the batch.
	AllowFailures bool
	// FailureThreshold cancels an AllowFailures batch once more than this
	// fraction of members failed. Zero disables it.
	FailureThreshold float64

	OnSuccess []queue.Callback
	OnFailure []queue.Callback
	OnFinally []queue.Callback
}

// Option configures a Definition.
type Option interface {
	apply(*Definition)
}

type optionFunc func(*Definition)

func (f optionFunc) apply(d *Definition) { f(d) }

// Define builds a Definition from members.
func Define(members []Member, opts ...Option) Definition {
	def := Definition{Members: members}
	for _, opt := range opts {
		opt.apply(&def)
	}
	return def
}

// Named sets the batch name.
func Named(name string) Option {
	return optionFunc(func(d *Definition) {
		d.Name = name
	})
}

// WithQueue sets the queue of members and callbacks that name none.
func WithQueue(q string) Option {
	return optionFunc(func(d *Definition) {
		d.Queue = q
	})
}

// WithPriority sets the priority of every member.
func WithPriority(p int) Option {
	return optionFunc(func(d *Definition) {
		d.Defaults = append(d.Defaults, queue.Priority(p))
	})
}

// WithMaxAttempts sets the attempt budget of every member.
func WithMaxAttempts(n int) Option {
	return optionFunc(func(d *Definition) {
		d.Defaults = append(d.Defaults, queue.MaxAttempts(n))
	})
}

// AllowFailures lets members fail without cancelling the batch.
func AllowFailures() Option {
	return optionFunc(func(d *Definition) {
		d.AllowFailures = true
	})
}

// FailureThreshold allows failures up to pct of the members, cancelling the
// batch beyond it.
func FailureThreshold(pct float64) Option {
	return optionFunc(func(d *Definition) {
		d.AllowFailures = true
		d.FailureThreshold = pct
	})
}

// OnSuccess adds a job submitted when every member succeeded.
func OnSuccess(jobType string, args any) Option {
	return optionFunc(func(d *Definition) {
		d.OnSuccess = append(d.OnSuccess, queue.Callback{Name: jobType, Args: args})
	})
}

// OnFailure adds a job submitted when the batch is cancelled by a failure,
// or finishes with allowed failures.
func OnFailure(jobType string, args any) Option {
	return optionFunc(func(d *Definition) {
		d.OnFailure = append(d.OnFailure, queue.Callback{Name: jobType, Args: args})
	})
}

// OnFinally adds a job submitted once the batch has finished, whatever the
// outcome.
func OnFinally(jobType string, args any) Option {
	return optionFunc(func(d *Definition) {
		d.OnFinally = append(d.OnFinally, queue.Callback{Name: jobType, Args: args})
	})
}
