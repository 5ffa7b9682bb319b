// Package runner abstracts the chat runner that drives interactive turns on
// agent sessions. The real runner is an external collaborator; the broker
// only needs interruption and turn tracking.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/fingerworks/finger/internal/types"
	"github.com/google/uuid"
)

// Runner is the control plane's view of the chat runner
type Runner interface {
	// InterruptSession aborts every in-flight turn of a session. An empty
	// session id interrupts all sessions. The provider id narrows the
	// interrupt to a single provider when non-empty.
	InterruptSession(sessionID, providerID string) (types.InterruptResult, error)
}

// SessionStater is implemented by runners that can report per-session state
type SessionStater interface {
	SessionStates() map[string]string
}

type turn struct {
	id       string
	provider string
	cancel   context.CancelFunc
}

// MockRunner tracks cancellable turns per session without any LLM behind it.
// It backs FINGER_FULL_MOCK_MODE and the test harness.
type MockRunner struct {
	mu    sync.Mutex
	turns map[string][]*turn
}

// NewMockRunner creates an empty mock runner
func NewMockRunner() *MockRunner {
	return &MockRunner{turns: make(map[string][]*turn)}
}

// BeginTurn registers an in-flight turn on a session and returns a context
// that is cancelled when the session is interrupted. The returned end
// function must be called when the turn finishes.
func (m *MockRunner) BeginTurn(ctx context.Context, sessionID, providerID string) (context.Context, func()) {
	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{id: uuid.New().String(), provider: providerID, cancel: cancel}

	m.mu.Lock()
	m.turns[sessionID] = append(m.turns[sessionID], t)
	m.mu.Unlock()

	end := func() {
		cancel()
		m.mu.Lock()
		defer m.mu.Unlock()
		turns := m.turns[sessionID]
		for i, candidate := range turns {
			if candidate == t {
				m.turns[sessionID] = append(turns[:i], turns[i+1:]...)
				break
			}
		}
		if len(m.turns[sessionID]) == 0 {
			delete(m.turns, sessionID)
		}
	}
	return turnCtx, end
}

// ActiveTurns reports the number of in-flight turns for a session
func (m *MockRunner) ActiveTurns(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns[sessionID])
}

// SessionStates reports a coarse state per session with in-flight turns
func (m *MockRunner) SessionStates() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.turns))
	for sessionID, turns := range m.turns {
		if len(turns) > 0 {
			out[sessionID] = "running"
		}
	}
	return out
}

// InterruptSession cancels every matching in-flight turn
func (m *MockRunner) InterruptSession(sessionID, providerID string) (types.InterruptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := types.InterruptResult{Sessions: []string{}}
	for id, turns := range m.turns {
		if sessionID != "" && id != sessionID {
			continue
		}
		var kept []*turn
		interrupted := 0
		for _, t := range turns {
			if providerID != "" && t.provider != providerID {
				kept = append(kept, t)
				continue
			}
			t.cancel()
			interrupted++
		}
		if interrupted > 0 {
			result.InterruptedCount += interrupted
			result.Sessions = append(result.Sessions, id)
		}
		if len(kept) == 0 {
			delete(m.turns, id)
		} else {
			m.turns[id] = kept
		}
	}
	return result, nil
}

// ErrTurnInterrupted wraps a cancelled turn so dispatch failures surface the
// interruption to callers
func ErrTurnInterrupted(sessionID string) error {
	return fmt.Errorf("turn interrupted for session %s", sessionID)
}
