package session

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrCallInProgress is returned for a connect event while another call is
// still active. The new call is rejected, never interleaved with the
// existing one.
var ErrCallInProgress = errors.New("a call is already in progress")

// Manager is the single-slot session registry. The process handles at most
// one call at a time; the slot is the only shared mutable reference and all
// mutations of it go through the manager's mutex.
type Manager struct {
	mu     sync.Mutex
	deps   Deps
	active *CallSession
}

// NewManager creates a manager with the given collaborators.
func NewManager(deps Deps) *Manager {
	deps.Timing = deps.Timing.withDefaults()
	return &Manager{deps: deps}
}

// Dispatch routes one inbound call event. Unknown event types are ignored.
func (m *Manager) Dispatch(ev CallEvent) error {
	switch ev.Event {
	case EventConnect:
		return m.connect(ev)
	case EventTerminate:
		m.terminate(ev.CallID)
		return nil
	default:
		log.Printf("[manager] ignoring event %q for call %s", ev.Event, ev.CallID)
		return nil
	}
}

// Active returns the call id and state of the current session, if any.
func (m *Manager) Active() (callID, state string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", "", false
	}
	return m.active.callID, m.active.State(), true
}

// Shutdown terminates the active session, if any, and waits for its
// teardown to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	s.Terminate()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connect(ev CallEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reap a session that finished but whose slot release lost the race
	// with this event.
	if m.active != nil {
		select {
		case <-m.active.Done():
			m.active = nil
		default:
		}
	}
	if m.active != nil {
		log.Printf("[manager] rejecting call %s: call %s still active", ev.CallID, m.active.callID)
		go m.deps.CallControl.Reject(context.Background(), ev.CallID)
		return ErrCallInProgress
	}

	if ev.CallerName == "" {
		ev.CallerName = "Unknown"
	}
	if ev.CallerNumber == "" {
		ev.CallerNumber = "Unknown"
	}

	s := newCallSession(ev, m.deps, m.release)
	m.active = s
	return nil
}

func (m *Manager) terminate(callID string) {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	if s == nil || s.callID != callID {
		log.Printf("[manager] terminate for unknown call %s, ignoring", callID)
		return
	}
	s.Terminate()
}

func (m *Manager) release(s *CallSession) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
}
