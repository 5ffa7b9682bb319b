// Package inputlock serialises interactive input per session: one client
// holds the lock, heartbeats extend it, expiry revokes it.
package inputlock

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fingerworks/finger/internal/events"
)

// Expiry scan defaults
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultScanInterval = 5 * time.Second
)

// State is the lock state for one session
type State struct {
	SessionID       string    `json:"sessionId"`
	LockedBy        string    `json:"lockedBy,omitempty"`
	LockedAt        time.Time `json:"lockedAt,omitempty"`
	Typing          bool      `json:"typing"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
}

// AcquireResult reports whether the lock was granted and who holds it
type AcquireResult struct {
	Granted   bool      `json:"granted"`
	SessionID string    `json:"sessionId"`
	HolderID  string    `json:"holderId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// HeartbeatResult tells the client whether its hold is still alive
type HeartbeatResult struct {
	Alive     bool      `json:"alive"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Manager owns the per-session lock map
type Manager struct {
	bus *events.Bus
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*State
}

// Option configures the manager
type Option func(*Manager)

// WithClock injects the wall clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTTL overrides the lock TTL
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewManager creates an input lock manager
func NewManager(bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus:   bus,
		ttl:   DefaultLockTTL,
		now:   time.Now,
		locks: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants the session lock to the client, or reports the current
// holder. Re-acquiring by the holder refreshes the expiry.
func (m *Manager) Acquire(sessionID, clientID string) AcquireResult {
	m.mu.Lock()
	state := m.stateLocked(sessionID)
	m.expireIfDueLocked(state)

	if state.LockedBy != "" && state.LockedBy != clientID {
		holder := state.LockedBy
		m.mu.Unlock()
		return AcquireResult{Granted: false, SessionID: sessionID, HolderID: holder}
	}

	now := m.now()
	state.LockedBy = clientID
	state.LockedAt = now
	state.LastHeartbeatAt = now
	state.ExpiresAt = now.Add(m.ttl)
	expires := state.ExpiresAt
	m.mu.Unlock()

	m.emitChanged(sessionID, clientID, true, "acquired")
	return AcquireResult{Granted: true, SessionID: sessionID, HolderID: clientID, ExpiresAt: expires}
}

// Heartbeat extends the holder's expiry. A client that no longer holds the
// lock gets alive:false and must release its local state.
func (m *Manager) Heartbeat(sessionID, clientID string) HeartbeatResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateLocked(sessionID)
	m.expireIfDueLocked(state)

	if state.LockedBy != clientID || clientID == "" {
		return HeartbeatResult{Alive: false}
	}

	now := m.now()
	state.LastHeartbeatAt = now
	state.ExpiresAt = now.Add(m.ttl)
	return HeartbeatResult{Alive: true, ExpiresAt: state.ExpiresAt}
}

// Release clears the lock if the client holds it. Idempotent: releasing an
// unheld lock is a no-op.
func (m *Manager) Release(sessionID, clientID string) bool {
	m.mu.Lock()
	state, ok := m.locks[sessionID]
	if !ok || state.LockedBy != clientID {
		m.mu.Unlock()
		return false
	}
	m.clearLocked(state)
	m.mu.Unlock()

	m.emitChanged(sessionID, "", false, "released")
	return true
}

// ReleaseAllFor clears every lock a client holds, e.g. when its connection
// drops
func (m *Manager) ReleaseAllFor(clientID string) {
	if clientID == "" {
		return
	}

	m.mu.Lock()
	var released []string
	for sessionID, state := range m.locks {
		if state.LockedBy == clientID {
			m.clearLocked(state)
			released = append(released, sessionID)
		}
	}
	m.mu.Unlock()

	for _, sessionID := range released {
		m.emitChanged(sessionID, "", false, "released")
	}
}

// SetTyping updates the typing indicator; only the current holder's typing
// state is broadcast.
func (m *Manager) SetTyping(sessionID, clientID string, typing bool) bool {
	m.mu.Lock()
	state := m.stateLocked(sessionID)
	m.expireIfDueLocked(state)
	if state.LockedBy != clientID || clientID == "" {
		m.mu.Unlock()
		return false
	}
	state.Typing = typing
	m.mu.Unlock()

	m.bus.Publish(events.New(events.EventTypingIndicator, sessionID, "", events.TypingPayload{
		SessionID: sessionID,
		ClientID:  clientID,
		Typing:    typing,
	}))
	return true
}

// Get returns the lock state for a session, applying expiry on access
func (m *Manager) Get(sessionID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.locks[sessionID]
	if !ok {
		return State{SessionID: sessionID}
	}
	m.expireIfDueLocked(state)
	return *state
}

// StartExpiryScan runs the fixed-cadence scan until the context is cancelled
func (m *Manager) StartExpiryScan(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[LOCK] Expiry scan started (interval: %v, ttl: %v)", interval, m.ttl)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[LOCK] Expiry scan stopping")
			return
		case <-ticker.C:
			m.ExpireScan()
		}
	}
}

// ExpireScan revokes every lock past its expiry
func (m *Manager) ExpireScan() {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for sessionID, state := range m.locks {
		if state.LockedBy != "" && now.After(state.ExpiresAt) {
			m.clearLocked(state)
			expired = append(expired, sessionID)
		}
	}
	m.mu.Unlock()

	for _, sessionID := range expired {
		log.Printf("[LOCK] Lock expired for session %s", sessionID)
		m.emitChanged(sessionID, "", false, "expired")
	}
}

// expireIfDueLocked applies lazy expiry on access. Caller holds m.mu; the
// change event is emitted from a goroutine to keep emission out of the
// critical section.
func (m *Manager) expireIfDueLocked(state *State) {
	if state.LockedBy == "" || !m.now().After(state.ExpiresAt) {
		return
	}
	sessionID := state.SessionID
	m.clearLocked(state)
	go m.emitChanged(sessionID, "", false, "expired")
}

func (m *Manager) stateLocked(sessionID string) *State {
	state, ok := m.locks[sessionID]
	if !ok {
		state = &State{SessionID: sessionID}
		m.locks[sessionID] = state
	}
	return state
}

func (m *Manager) clearLocked(state *State) {
	state.LockedBy = ""
	state.LockedAt = time.Time{}
	state.Typing = false
	state.ExpiresAt = time.Time{}
}

func (m *Manager) emitChanged(sessionID, lockedBy string, locked bool, reason string) {
	m.bus.Publish(events.New(events.EventInputLockChanged, sessionID, "", events.InputLockPayload{
		SessionID: sessionID,
		LockedBy:  lockedBy,
		Locked:    locked,
		Reason:    reason,
	}))
}
