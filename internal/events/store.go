package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists runtime events for later inspection. Queued work is
// lost on crash by design; the store is an audit log, not a replay source.
type SQLiteStore struct {
	db *sql.DB
}

// OpenDB opens (or creates) the event database at the given path
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event db: %w", err)
	}
	return db, nil
}

// NewSQLiteStore creates a new SQLite event store and initializes the schema
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the events table and indexes
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runtime_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_id TEXT,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runtime_events_session ON runtime_events(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_runtime_events_type ON runtime_events(type);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Save persists an event to the database
func (s *SQLiteStore) Save(event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO runtime_events (id, type, session_id, agent_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		event.ID,
		string(event.Type),
		event.SessionID,
		event.AgentID,
		string(payloadJSON),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events for a session, newest first. An empty
// session id returns events across all sessions.
func (s *SQLiteStore) Recent(sessionID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, type, session_id, agent_id, payload, created_at
		FROM runtime_events
	`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			ev        Event
			typ       string
			agentID   sql.NullString
			payload   string
			createdAt time.Time
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.SessionID, &agentID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = EventType(typ)
		ev.AgentID = agentID.String
		ev.Timestamp = createdAt

		var decoded any
		if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
			ev.Payload = decoded
		} else {
			ev.Payload = payload
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
