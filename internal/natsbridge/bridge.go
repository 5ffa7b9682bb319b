package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/types"
	nc "github.com/nats-io/nats.go"
)

// Subject patterns for the module bridge
const (
	// SubjectModuleRequest is the request/reply subject for one module.
	// Use fmt.Sprintf(SubjectModuleRequest, moduleID).
	SubjectModuleRequest = "module.%s.request"

	// SubjectModuleRegister announces a remote module to the broker
	SubjectModuleRegister = "module.register"

	// SubjectModuleUnregister withdraws a remote module
	SubjectModuleUnregister = "module.unregister"
)

// DefaultRequestTimeout bounds a remote send when the caller context has no
// deadline of its own
const DefaultRequestTimeout = 60 * time.Second

// Announcement is the registration payload a remote module publishes
type Announcement struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Provider string            `json:"provider,omitempty"`
	Bridge   string            `json:"bridge,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Reply is the wire shape a remote module answers with
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status int             `json:"status,omitempty"`
}

// Bridge exposes NATS-addressed remote modules to the message hub
type Bridge struct {
	conn *nc.Conn
	hub  *hub.Hub

	mu     sync.Mutex
	subs   []*nc.Subscription
	remote map[string]bool
}

// Connect dials the NATS server with indefinite reconnects
func Connect(url string) (*nc.Conn, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				log.Printf("[NATS] Disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			log.Printf("[NATS] Reconnected to %s", conn.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewBridge creates a bridge over an established connection
func NewBridge(conn *nc.Conn, moduleHub *hub.Hub) *Bridge {
	return &Bridge{conn: conn, hub: moduleHub, remote: make(map[string]bool)}
}

// Start subscribes to module registration traffic
func (b *Bridge) Start() error {
	sub, err := b.conn.Subscribe(SubjectModuleRegister, b.handleRegister)
	if err != nil {
		return fmt.Errorf("failed to subscribe to registrations: %w", err)
	}
	b.addSub(sub)

	sub, err = b.conn.Subscribe(SubjectModuleUnregister, b.handleUnregister)
	if err != nil {
		return fmt.Errorf("failed to subscribe to unregistrations: %w", err)
	}
	b.addSub(sub)

	log.Printf("[NATS] Module bridge started")
	return nil
}

// Stop drops the bridge subscriptions; remote modules stay registered in the
// hub until they unregister or the process exits.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *Bridge) addSub(sub *nc.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *Bridge) handleRegister(msg *nc.Msg) {
	var ann Announcement
	if err := json.Unmarshal(msg.Data, &ann); err != nil || ann.ID == "" {
		log.Printf("[NATS] Ignoring malformed module registration: %v", err)
		return
	}

	info := types.ModuleInfo{
		ID:       ann.ID,
		Type:     ann.Type,
		Provider: ann.Provider,
		Bridge:   ann.Bridge,
		Metadata: ann.Metadata,
	}
	if info.Type == "" {
		info.Type = "agent"
	}

	if err := b.hub.Register(info, b.remoteHandler(ann.ID)); err != nil {
		log.Printf("[NATS] Failed to register remote module %s: %v", ann.ID, err)
		return
	}

	b.mu.Lock()
	b.remote[ann.ID] = true
	b.mu.Unlock()
	log.Printf("[NATS] Remote module registered: %s (type=%s)", ann.ID, info.Type)

	if msg.Reply != "" {
		msg.Respond([]byte(`{"ok":true}`))
	}
}

func (b *Bridge) handleUnregister(msg *nc.Msg) {
	var ann Announcement
	if err := json.Unmarshal(msg.Data, &ann); err != nil || ann.ID == "" {
		return
	}

	b.mu.Lock()
	known := b.remote[ann.ID]
	delete(b.remote, ann.ID)
	b.mu.Unlock()

	if known {
		b.hub.Unregister(ann.ID)
		log.Printf("[NATS] Remote module unregistered: %s", ann.ID)
	}
}

// remoteHandler builds the hub handler that forwards payloads to the remote
// module over request/reply
func (b *Bridge) remoteHandler(moduleID string) hub.Handler {
	subject := fmt.Sprintf(SubjectModuleRequest, moduleID)

	return func(ctx context.Context, payload map[string]any) (any, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for %s: %w", moduleID, err)
		}

		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
			defer cancel()
		}

		msg, err := b.conn.RequestWithContext(ctx, subject, data)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", moduleID, err)
		}

		var reply Reply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reply from %s: %w", moduleID, err)
		}
		if !reply.OK {
			if reply.Status > 0 {
				return nil, &hub.StatusError{Code: reply.Status, Message: reply.Error}
			}
			return nil, fmt.Errorf("module %s: %s", moduleID, reply.Error)
		}

		var result any
		if len(reply.Result) > 0 {
			if err := json.Unmarshal(reply.Result, &result); err != nil {
				return nil, fmt.Errorf("failed to decode result from %s: %w", moduleID, err)
			}
		}
		if decoded, ok := result.(map[string]any); ok {
			return decoded, nil
		}
		return result, nil
	}
}
