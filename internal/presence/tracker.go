// ABOUTME: Per-identity connection lifecycle tracking and the active-agent roster
// ABOUTME: Initialization is idempotent so reconnect storms never create duplicate registrations

package presence

import (
	"log/slog"
	"sync"
)

// State is the connection lifecycle state of one identity's session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
	StateTornDown      State = "torn_down"
)

// Identity names a session holder. Agent sessions feed the fan-out roster.
type Identity struct {
	ID    string
	Agent bool
}

type session struct {
	identity Identity
	state    State
}

// Tracker maintains per-identity sessions with an explicit lifecycle.
// It is an ordinary value passed to the components that need it, created and
// torn down by its owner, so reconnection and test isolation stay tractable.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

// NewTracker creates a presence tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sessions: make(map[string]*session),
		logger:   logger.With("component", "presence"),
	}
}

// Initialize registers a session for the identity and moves it to connecting.
// Idempotent: calling it while a session for the same identity is already
// connecting or connected is a no-op, because a duplicate initialization
// would mean duplicate transport connections and double-delivered events.
// It never returns an error to the caller.
func (t *Tracker) Initialize(identity Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[identity.ID]; ok {
		switch s.state {
		case StateConnecting, StateConnected:
			t.logger.Debug("initialize is a no-op, session already live",
				"identity", identity.ID,
				"state", s.state)
			return
		case StateDisconnected:
			// Reconnect attempt: back to connecting
			s.state = StateConnecting
			t.logger.Debug("session reconnecting", "identity", identity.ID)
			return
		}
	}

	t.sessions[identity.ID] = &session{
		identity: identity,
		state:    StateConnecting,
	}
	t.logger.Debug("session initialized", "identity", identity.ID, "agent", identity.Agent)
}

// MarkConnected records a successful transport handshake.
// Ignored unless the session is connecting or disconnected.
func (t *Tracker) MarkConnected(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		t.logger.Warn("mark-connected for unknown session", "identity", id)
		return
	}
	switch s.state {
	case StateConnecting, StateDisconnected:
		s.state = StateConnected
		t.logger.Info("session connected", "identity", id, "agent", s.identity.Agent)
	default:
		t.logger.Debug("ignoring mark-connected", "identity", id, "state", s.state)
	}
}

// MarkDisconnected records a transport-driven network loss. The transport
// retries on its own; the session stays registered so the retry lands back
// in connecting via Initialize.
func (t *Tracker) MarkDisconnected(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if !ok {
		return
	}
	switch s.state {
	case StateConnected, StateConnecting:
		s.state = StateDisconnected
		t.logger.Info("session disconnected", "identity", id)
	default:
		t.logger.Debug("ignoring mark-disconnected", "identity", id, "state", s.state)
	}
}

// Cleanup tears a session down on explicit sign-out or page unload. It
// releases the registration and clears the initialization guard so a
// subsequent sign-in re-initializes cleanly. Always safe to call, even if
// the identity was never initialized.
func (t *Tracker) Cleanup(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[id]; !ok {
		return
	}
	delete(t.sessions, id)
	t.logger.Info("session torn down", "identity", id)
}

// Status reports the identity's current lifecycle state for UI gating.
// Presence feeds affordances like online dots; it never gates the
// correctness of message delivery.
func (t *Tracker) Status(id string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[id]
	if !ok {
		return StateUninitialized
	}
	return s.state
}

// Online reports whether the identity is currently connected.
func (t *Tracker) Online(id string) bool {
	return t.Status(id) == StateConnected
}

// ActiveAgents returns the IDs of all currently connected agent sessions.
// Callers re-query this per publish rather than caching the roster.
func (t *Tracker) ActiveAgents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agents := make([]string, 0, len(t.sessions))
	for id, s := range t.sessions {
		if s.identity.Agent && s.state == StateConnected {
			agents = append(agents, id)
		}
	}
	return agents
}
