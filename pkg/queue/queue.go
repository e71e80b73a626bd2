package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
	"github.com/jdziat/durable-queue/pkg/internal/handler"
	"github.com/jdziat/durable-queue/pkg/middleware"
	"github.com/jdziat/durable-queue/pkg/security"
)

// ErrUnknownMiddleware is returned when a queue lists a middleware name
// nobody registered.
var ErrUnknownMiddleware = errors.New("queue: unknown middleware")

// Queue manages handlers, queue settings and job submission. One Queue is
// shared by the producers and workers of a process.
type Queue struct {
	storage  core.Storage
	drivers  map[string]core.Driver
	handlers map[string]*registration
	configs  map[string]QueueConfig
	named    map[string]middleware.Middleware
	global   []middleware.Middleware
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.RWMutex

	// Hooks
	onQueued   []func(context.Context, *core.Job)
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)

	// Event stream
	eventSubs []chan core.Event
}

type registration struct {
	handler  *handler.Handler
	defaults []Option
}

// ManagerOption configures a Queue.
type ManagerOption interface {
	apply(*Queue)
}

type managerOptionFunc func(*Queue)

func (f managerOptionFunc) apply(q *Queue) { f(q) }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return managerOptionFunc(func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	})
}

// WithClock replaces the time source used for delays.
func WithClock(now func() time.Time) ManagerOption {
	return managerOptionFunc(func(q *Queue) {
		q.now = func() time.Time { return now().UTC() }
	})
}

// WithDriver registers a backend driver at construction.
func WithDriver(name string, d core.Driver) ManagerOption {
	return managerOptionFunc(func(q *Queue) {
		q.drivers[name] = d
	})
}

// New creates a Queue coordinated through s. s is also the default
// backend for queues that name none.
func New(s core.Storage, opts ...ManagerOption) *Queue {
	q := &Queue{
		storage:  s,
		drivers:  make(map[string]core.Driver),
		handlers: make(map[string]*registration),
		configs:  make(map[string]QueueConfig),
		named:    make(map[string]middleware.Middleware),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.apply(q)
	}
	return q
}

// Storage returns the coordination store.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// Logger returns the queue logger.
func (q *Queue) Logger() *slog.Logger {
	return q.logger
}

// Now returns the current time in UTC.
func (q *Queue) Now() time.Time {
	return q.now()
}

// Register registers a job handler function.
// The function must have signature: func(ctx context.Context, args T) error
// (see handler.NewHandler for the accepted variants). opts become the
// defaults of every submit of this type.
// Job type names must be alphanumeric (starting with a letter), max 255 chars.
func (q *Queue) Register(name string, fn any, opts ...Option) {
	if err := security.ValidateJobTypeName(name); err != nil {
		panic(fmt.Sprintf("queue: invalid handler name %q: %v", name, err))
	}

	h, err := handler.NewHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("queue: handler for %q: %v", name, err))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = &registration{handler: h, defaults: opts}
}

// HasHandler checks if a handler is registered.
func (q *Queue) HasHandler(name string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.handlers[name]
	return ok
}

// Handler returns a handler by name.
func (q *Queue) Handler(name string) (*handler.Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	reg, ok := q.handlers[name]
	if !ok {
		return nil, false
	}
	return reg.handler, true
}

// HandlerNames returns every registered job type.
func (q *Queue) HandlerNames() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	return names
}

// RegisterDriver makes d available as a backend under name.
func (q *Queue) RegisterDriver(name string, d core.Driver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drivers[name] = d
}

// DriverFor returns the driver that serves queue.
func (q *Queue) DriverFor(queue string) (core.Driver, error) {
	return q.driverNamed(q.QueueConfig(queue).Backend)
}

// DriverOf returns the driver that holds job.
func (q *Queue) DriverOf(job *core.Job) (core.Driver, error) {
	return q.driverNamed(job.Backend)
}

func (q *Queue) driverNamed(name string) (core.Driver, error) {
	if name == "" || name == q.storage.Name() {
		return q.storage, nil
	}
	q.mu.RLock()
	d, ok := q.drivers[name]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownBackend, name)
	}
	return d, nil
}

// Drivers returns the coordination store followed by every registered
// driver, each once.
func (q *Queue) Drivers() []core.Driver {
	q.mu.RLock()
	defer q.mu.RUnlock()
	all := []core.Driver{q.storage}
	for _, d := range q.drivers {
		if d != core.Driver(q.storage) {
			all = append(all, d)
		}
	}
	return all
}

// Use adds middleware applied to every queue, outermost first.
func (q *Queue) Use(mws ...middleware.Middleware) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.global = append(q.global, mws...)
}

// RegisterMiddleware names a middleware so queue configs can list it.
func (q *Queue) RegisterMiddleware(name string, mw middleware.Middleware) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.named[name] = mw
}

// Pipeline returns the middleware for queue: the global stages followed by
// the queue's named stages in config order.
func (q *Queue) Pipeline(queue string) (middleware.Middleware, error) {
	cfg := q.QueueConfig(queue)

	q.mu.RLock()
	defer q.mu.RUnlock()
	mws := append([]middleware.Middleware(nil), q.global...)
	for _, name := range cfg.Middleware {
		mw, ok := q.named[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMiddleware, name)
		}
		mws = append(mws, mw)
	}
	return middleware.Chain(mws...), nil
}
