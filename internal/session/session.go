// Package session owns the lifecycle of the single engine session.
//
// A Manager is an explicitly constructed, explicitly owned resource: it is
// created with the engine it manages, started lazily on first use, and shut
// down exactly once by its owner. There is at most one live engine session
// per Manager and the adapter constructs exactly one Manager per process.
//
// # State machine
//
//	StateUnstarted → StateStarting → StateReady → StateClosed
//	                              ↘ StateError
//
// StateStarting is occupied by a single caller; concurrent Ensure calls
// collapse onto the in-flight start and all observe the same outcome.
// StateReady is the only state from which execution is attempted.
// StateError and StateClosed are terminal.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/numlab/matlab-mcp-go/internal/engine"
	"github.com/numlab/matlab-mcp-go/internal/errors"
)

// State is the lifecycle state of the engine session.
type State int

// Session lifecycle states.
const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateError
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager owns the single engine session. It starts the engine on first
// use, serializes all execution against it, and shuts it down exactly once.
type Manager struct {
	log *slog.Logger
	eng engine.Engine

	start singleflight.Group

	mu        sync.Mutex
	state     State
	startErr  error
	startedAt time.Time

	// execMu serializes engine calls: the engine is not assumed safe for
	// concurrent invocation, so Do holds this lock for the whole call.
	execMu sync.Mutex
}

// NewManager creates a session manager for the given engine. The engine is
// not started until the first Ensure or Do call.
func NewManager(log *slog.Logger, eng engine.Engine) *Manager {
	return &Manager{
		log: log.With("component", "session"),
		eng: eng,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// StartedAt returns when the session became ready, or the zero time.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.startedAt
}

// Ensure makes sure a live session exists, starting the engine on first
// call. Racing callers wait for the single in-flight start rather than
// spawning a duplicate, and every waiter observes the same outcome.
//
// Returns *errors.EngineStartError if the engine cannot be located or
// initialized, and errors.ErrSessionClosed after Shutdown. A failed start
// is terminal: later calls report the original start error.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()

	switch m.state {
	case StateReady:
		m.mu.Unlock()

		return nil
	case StateClosed:
		m.mu.Unlock()

		return errors.ErrSessionClosed
	case StateError:
		err := m.startErr
		m.mu.Unlock()

		return err
	case StateUnstarted, StateStarting:
	}

	m.mu.Unlock()

	_, err, _ := m.start.Do("start", func() (any, error) {
		return nil, m.startOnce(ctx)
	})

	return err
}

// startOnce performs the actual engine start. Only one caller at a time
// reaches this via singleflight.
func (m *Manager) startOnce(ctx context.Context) error {
	m.mu.Lock()

	// A racing caller may have completed or closed the session while this
	// call was queued on the singleflight group.
	switch m.state {
	case StateReady:
		m.mu.Unlock()

		return nil
	case StateClosed:
		m.mu.Unlock()

		return errors.ErrSessionClosed
	case StateError:
		err := m.startErr
		m.mu.Unlock()

		return err
	case StateUnstarted, StateStarting:
	}

	m.state = StateStarting
	m.mu.Unlock()

	m.log.Info("Starting engine session")

	err := m.eng.Start(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		// Shutdown raced the start; the engine is already closed.
		return errors.ErrSessionClosed
	}

	if err != nil {
		m.state = StateError
		m.startErr = err
		m.log.Error("Engine session failed to start", "error", err)

		return err
	}

	m.state = StateReady
	m.startedAt = time.Now()
	m.log.Info("Engine session ready")

	return nil
}

// Do runs fn against the live engine while holding the exclusive execution
// lock. Requests queue here rather than racing the engine; two concurrent
// calls never interleave their engine evaluation.
func (m *Manager) Do(ctx context.Context, fn func(engine.Engine) error) error {
	if err := m.Ensure(ctx); err != nil {
		return err
	}

	m.execMu.Lock()
	defer m.execMu.Unlock()

	// Shutdown may have happened while queued on the lock.
	if m.State() != StateReady {
		return errors.ErrSessionClosed
	}

	return fn(m.eng)
}

// Shutdown terminates the session if live. Idempotent; after Shutdown every
// execution attempt fails with errors.ErrSessionClosed.
func (m *Manager) Shutdown() error {
	m.mu.Lock()

	if m.state == StateClosed {
		m.mu.Unlock()

		return nil
	}

	wasReady := m.state == StateReady
	m.state = StateClosed
	m.mu.Unlock()

	if wasReady {
		m.log.Info("Shutting down engine session")
	}

	return m.eng.Close()
}
