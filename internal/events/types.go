package events

import (
	"time"

	"github.com/fingerworks/finger/internal/types"
	"github.com/google/uuid"
)

// EventType represents the type of runtime event
type EventType string

// Event types produced by the core
const (
	EventCatalog  EventType = "agent_runtime_catalog"
	EventDispatch EventType = "agent_runtime_dispatch"
	EventControl  EventType = "agent_runtime_control"
	EventStatus   EventType = "agent_runtime_status"
)

// Event types re-emitted from agent runners and the interactive surface
const (
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventToolError         EventType = "tool_error"
	EventChatCodexTurn     EventType = "chat_codex_turn"
	EventAssistantChunk    EventType = "assistant_chunk"
	EventAssistantComplete EventType = "assistant_complete"
	EventPhaseTransition   EventType = "phase_transition"
	EventWorkflowUpdate    EventType = "workflow_update"
	EventAgentUpdate       EventType = "agent_update"
	EventUserMessage       EventType = "user_message"
	EventInputLockChanged  EventType = "input_lock_changed"
	EventTypingIndicator   EventType = "typing_indicator"
)

// DefaultSessionID is used when an event is emitted without a session
const DefaultSessionID = "default"

// Event is a single entry on the runtime event stream. Timestamp serialises
// as RFC 3339 via the standard time.Time marshaller.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	AgentID   string    `json:"agentId,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event with a generated id and the current wall clock
func New(eventType EventType, sessionID, agentID string, payload any) *Event {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		AgentID:   agentID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// DispatchPayload is the payload schema for agent_runtime_dispatch events
type DispatchPayload struct {
	DispatchID    string               `json:"dispatchId"`
	SourceAgentID string               `json:"sourceAgentId,omitempty"`
	TargetAgentID string               `json:"targetAgentId"`
	Status        types.DispatchStatus `json:"status"`
	ModuleID      string               `json:"moduleId,omitempty"`
	WorkflowID    string               `json:"workflowId,omitempty"`
	QueuePosition int                  `json:"queuePosition,omitempty"`
	Assignment    *types.Assignment    `json:"assignment,omitempty"`
	Error         string               `json:"error,omitempty"`
	Summary       string               `json:"summary,omitempty"`
}

// ControlPayload is the payload schema for agent_runtime_control events
type ControlPayload struct {
	Action     types.ControlAction       `json:"action"`
	Status     types.ControlResultStatus `json:"status"`
	SessionID  string                    `json:"sessionId,omitempty"`
	WorkflowID string                    `json:"workflowId,omitempty"`
	Result     any                       `json:"result,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// StatusPayload is the payload schema for agent_runtime_status events
type StatusPayload struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

// InputLockPayload is the payload schema for input_lock_changed events
type InputLockPayload struct {
	SessionID string `json:"sessionId"`
	LockedBy  string `json:"lockedBy,omitempty"`
	Locked    bool   `json:"locked"`
	Reason    string `json:"reason,omitempty"`
}

// TypingPayload is the payload schema for typing_indicator events
type TypingPayload struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	Typing    bool   `json:"typing"`
}

// AllEventTypes returns every defined event type
func AllEventTypes() []EventType {
	return []EventType{
		EventCatalog,
		EventDispatch,
		EventControl,
		EventStatus,
		EventToolCall,
		EventToolResult,
		EventToolError,
		EventChatCodexTurn,
		EventAssistantChunk,
		EventAssistantComplete,
		EventPhaseTransition,
		EventWorkflowUpdate,
		EventAgentUpdate,
		EventUserMessage,
		EventInputLockChanged,
		EventTypingIndicator,
	}
}
