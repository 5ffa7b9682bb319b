package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/types"
)

// MockModuleDelay is how long a mock agent pretends to work per chunk
const MockModuleDelay = 20 * time.Millisecond

// NewMockAgentHandler builds a hub handler that simulates an agent module:
// it streams a couple of assistant chunks on the bus, honours interrupts via
// the mock runner, and answers with a canned reply.
func NewMockAgentHandler(bus *events.Bus, mock *MockRunner, agentID string, role types.AgentRole) hub.Handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		sessionID, _ := payload["sessionId"].(string)
		text, _ := payload["text"].(string)
		if text == "" {
			text = "task"
		}

		turnCtx, end := mock.BeginTurn(ctx, sessionID, "")
		defer end()

		chunks := []string{"working on: " + text, "done"}
		for _, chunk := range chunks {
			select {
			case <-turnCtx.Done():
				if ctx.Err() == nil {
					// Our turn was cancelled but the caller is still there:
					// this is an interrupt, not a caller abort.
					return nil, ErrTurnInterrupted(sessionID)
				}
				return nil, turnCtx.Err()
			case <-time.After(MockModuleDelay):
			}
			bus.Publish(events.New(events.EventAssistantChunk, sessionID, agentID, map[string]any{
				"delta": chunk,
			}))
		}

		reply := map[string]any{
			"agentId": agentID,
			"role":    string(role),
			"text":    fmt.Sprintf("[%s] %s", agentID, summarize(text)),
		}
		if role == types.RoleReviewer {
			reply["reviewDecision"] = "passed"
		}
		bus.Publish(events.New(events.EventAssistantComplete, sessionID, agentID, reply))
		return reply, nil
	}
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		return text[:80] + "…"
	}
	return text
}
