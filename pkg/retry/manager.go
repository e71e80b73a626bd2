package retry

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jdziat/durable-queue/pkg/core"
)

// Config configures a Manager.
type Config struct {
	// MaxRetries is how many retries an identity gets before it is
	// exhausted.
	MaxRetries int
	// Default applies to errors without an override.
	Default BackoffConfig
	// Overrides maps an error kind (see core.ErrorKind) to its backoff.
	Overrides map[string]BackoffConfig
	// NonRetryable errors terminate immediately, matched with errors.Is.
	NonRetryable []error
	// NonRetryableKinds terminate immediately when any error in the chain
	// has one of these kinds.
	NonRetryableKinds []string
}

// DefaultConfig returns three retries with exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Default:    DefaultBackoff(),
	}
}

// State is the retry record of one identity.
type State struct {
	Identity       string
	CurrentAttempt int
	MaxRetries     int
	Backoff        BackoffConfig
	History        []core.AttemptRecord
	Exhausted      bool
	UpdatedAt      time.Time
}

// Manager classifies failures and tracks retries per identity. It is safe
// for concurrent use.
type Manager struct {
	cfg    Config
	now    func() time.Time
	mu     sync.Mutex
	states map[string]*State
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Default.Strategy == "" {
		cfg.Default = DefaultBackoff()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Manager{
		cfg:    cfg,
		now:    time.Now,
		states: make(map[string]*State),
	}
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// IsRetryable reports whether err may be retried. NoRetry errors and
// anything on the non-retryable lists terminate.
func (m *Manager) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var noRetry *core.NoRetryError
	if errors.As(err, &noRetry) {
		return false
	}
	for _, target := range m.cfg.NonRetryable {
		if errors.Is(err, target) {
			return false
		}
	}
	if len(m.cfg.NonRetryableKinds) > 0 {
		for _, kind := range core.ErrorKinds(err) {
			if slices.Contains(m.cfg.NonRetryableKinds, kind) {
				return false
			}
		}
	}
	return true
}

// ConfigFor resolves the backoff for err: the override of the most specific
// kind in its chain, else the default.
func (m *Manager) ConfigFor(err error) BackoffConfig {
	if err != nil && len(m.cfg.Overrides) > 0 {
		kinds := core.ErrorKinds(err)
		for i := len(kinds) - 1; i >= 0; i-- {
			if cfg, ok := m.cfg.Overrides[kinds[i]]; ok {
				return cfg
			}
		}
	}
	return m.cfg.Default
}

// Delay returns the wait before attempt. An explicit RetryAfter in the
// chain wins over the configured curve.
func (m *Manager) Delay(err error, attempt int) time.Duration {
	var after *core.RetryAfterError
	if errors.As(err, &after) {
		return after.Delay
	}
	return m.ConfigFor(err).Delay(attempt)
}

// Classify turns a handler error into an outcome: permanent when not
// retryable, otherwise a retry after the backoff for attempt.
func (m *Manager) Classify(err error, attempt int) core.Outcome {
	if err == nil {
		return core.Success()
	}
	if !m.IsRetryable(err) {
		return core.Permanent(err)
	}
	return core.Retry(m.Delay(err, attempt), err)
}

// ScheduleRetry records a failure of identity and returns the delay before
// the next attempt. It reports false once the identity is exhausted, either
// because it exceeded MaxRetries or because err is not retryable.
// Exhaustion is permanent until Reset.
func (m *Manager) ScheduleRetry(identity string, err error) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(identity, err)
	st.CurrentAttempt++
	st.UpdatedAt = m.now().UTC()

	rec := core.AttemptRecord{
		Attempt:   st.CurrentAttempt,
		At:        st.UpdatedAt,
		ErrorKind: core.ErrorKind(err),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if !st.Exhausted && (st.CurrentAttempt > st.MaxRetries || !m.IsRetryable(err)) {
		st.Exhausted = true
	}
	if st.Exhausted {
		st.History = append(st.History, rec)
		return 0, false
	}

	rec.Delay = m.Delay(err, st.CurrentAttempt)
	st.History = append(st.History, rec)
	return rec.Delay, true
}

func (m *Manager) stateLocked(identity string, err error) *State {
	st, ok := m.states[identity]
	if !ok {
		st = &State{
			Identity:   identity,
			MaxRetries: m.cfg.MaxRetries,
			Backoff:    m.ConfigFor(err),
		}
		m.states[identity] = st
	}
	return st
}

// ShouldRetry reports whether identity may run again. Unknown identities
// may.
func (m *Manager) ShouldRetry(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[identity]
	return !ok || !st.Exhausted
}

// State returns a copy of identity's record.
func (m *Manager) State(identity string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[identity]
	if !ok {
		return State{}, false
	}
	cp := *st
	cp.History = slices.Clone(st.History)
	return cp, true
}

// Reset clears the attempt count and exhaustion of identity, keeping its
// history.
func (m *Manager) Reset(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[identity]; ok {
		st.CurrentAttempt = 0
		st.Exhausted = false
	}
}

// Forget drops identity's record, typically after it succeeded.
func (m *Manager) Forget(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, identity)
}

// Prune drops exhausted records last updated before cutoff.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.states {
		if st.Exhausted && st.UpdatedAt.Before(cutoff) {
			delete(m.states, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
