// Package workspace manages the session tree: one orchestrator root session
// plus runtime child sessions per sub-agent, and the per-session workspace
// directories used for diagnostic logs.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fingerworks/finger/internal/types"
	"github.com/google/uuid"
)

// SessionKind separates the orchestrator root from runtime children
type SessionKind string

const (
	KindRoot  SessionKind = "root"
	KindChild SessionKind = "child"
)

// DiagnosticsFormatVersion is embedded in every diagnostics line
const DiagnosticsFormatVersion = 1

// Message is one entry of a session transcript read model
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agentId,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a node of the session tree
type Session struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Kind      SessionKind `json:"kind"`
	ParentID  string      `json:"parentId,omitempty"`
	AgentID   string      `json:"agentId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Dirs is the opaque directory handle callers use to place per-session logs
type Dirs struct {
	Root        string `json:"root"`
	Diagnostics string `json:"diagnostics"`
}

// Manager owns the session tree
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
	baseDir  string
	current  string
}

// NewManager creates a session manager rooted at baseDir
func NewManager(baseDir string) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		baseDir:  baseDir,
	}
}

// EnsureOrchestratorRootSession returns the existing root session or creates
// one. Idempotent: repeated calls return the same session.
func (m *Manager) EnsureOrchestratorRootSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Kind == KindRoot {
			return s
		}
	}

	s := &Session{
		ID:        "session-" + uuid.New().String(),
		Title:     "Orchestrator",
		Kind:      KindRoot,
		CreatedAt: time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	if m.current == "" {
		m.current = s.ID
	}
	return s
}

// EnsureRuntimeChildSession returns the child session for (root, agentID),
// creating it with a distinct id when missing.
func (m *Manager) EnsureRuntimeChildSession(root *Session, agentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Kind == KindChild && s.ParentID == root.ID && s.AgentID == agentID {
			return s
		}
	}

	s := &Session{
		ID:        "session-" + uuid.New().String(),
		Title:     agentID,
		Kind:      KindChild,
		ParentID:  root.ID,
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	return s
}

// SessionForRole resolves the deploy target session: the root for
// orchestrator-role agents, a runtime child for everything else.
func (m *Manager) SessionForRole(role types.AgentRole, agentID string) *Session {
	root := m.EnsureOrchestratorRootSession()
	if role == types.RoleOrchestrator {
		return root
	}
	return m.EnsureRuntimeChildSession(root, agentID)
}

// IsRuntimeChildSession reports whether the session id names a runtime child
func (m *Manager) IsRuntimeChildSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return ok && s.Kind == KindChild
}

// Get returns a session by id
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns all sessions
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SetCurrent marks a session as the current interactive session
func (m *Manager) SetCurrent(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sessionID
}

// Current returns the current interactive session id
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// AppendMessage records a transcript message on a session
func (m *Manager) AppendMessage(sessionID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session not found")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

// Messages returns the transcript read model for a session
func (m *Manager) Messages(sessionID string) ([]Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, false
	}
	out := make([]Message, len(m.messages[sessionID]))
	copy(out, m.messages[sessionID])
	return out, true
}

// ResolveSessionWorkspaceDirs returns (creating if needed) the workspace
// directories for a session
func (m *Manager) ResolveSessionWorkspaceDirs(sessionID string) (Dirs, error) {
	if sessionID == "" {
		return Dirs{}, fmt.Errorf("session not found")
	}

	root := filepath.Join(m.baseDir, sessionID)
	dirs := Dirs{
		Root:        root,
		Diagnostics: filepath.Join(root, "diagnostics"),
	}
	if err := os.MkdirAll(dirs.Diagnostics, 0o755); err != nil {
		return Dirs{}, fmt.Errorf("failed to create session workspace: %w", err)
	}
	return dirs, nil
}

// AppendDiagnostic appends one JSON line to the per-agent diagnostics log
// for a session (<workspace>/diagnostics/<agentId>.loop.jsonl).
func (m *Manager) AppendDiagnostic(sessionID, agentID string, entry map[string]any) error {
	dirs, err := m.ResolveSessionWorkspaceDirs(sessionID)
	if err != nil {
		return err
	}

	record := map[string]any{
		"version":   DiagnosticsFormatVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"agentId":   agentID,
	}
	for k, v := range entry {
		record[k] = v
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostic: %w", err)
	}

	path := filepath.Join(dirs.Diagnostics, agentID+".loop.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open diagnostics log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append diagnostic: %w", err)
	}
	return nil
}
