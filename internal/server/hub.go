package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/inputlock"
	"github.com/gorilla/websocket"
)

// WebSocketBufferSize is the buffer size for WebSocket send/broadcast
// channels. Allows pending messages to queue up before blocking, useful for
// burst traffic.
const WebSocketBufferSize = 256

// AcquireFailOpenTimeout bounds how long an acquire may take before the
// client is told to treat the lock as granted: user input must not silently
// drop because the lock manager is wedged.
const AcquireFailOpenTimeout = 5 * time.Second

// Frame is the wire shape of every server→client message
type Frame struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// clientFrame is the wire shape of client→server messages
type clientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId,omitempty"`
	Typing    bool   `json:"typing,omitempty"`
}

// Client represents one WebSocket consumer
type Client struct {
	hub      *WSHub
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// WSHub manages WebSocket clients and fans the event stream out to them
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	locks      *inputlock.Manager
	onCount    func(int)
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(locks *inputlock.Manager, onCount func(int)) *WSHub {
	return &WSHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, WebSocketBufferSize),
		locks:      locks,
		onCount:    onCount,
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.countChanged(count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.countChanged(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) countChanged(count int) {
	if h.onCount != nil {
		h.onCount(count)
	}
}

// Register adds a client
func (h *WSHub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *WSHub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastEvent fans one bus event out to every client
func (h *WSHub) BroadcastEvent(ev events.Event) {
	h.BroadcastFrame(Frame{
		Type:      string(ev.Type),
		Payload:   ev.Payload,
		SessionID: ev.SessionID,
		AgentID:   ev.AgentID,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
	})
}

// BroadcastFrame sends a frame to all clients
func (h *WSHub) BroadcastFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// ClientCount returns number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendFrame queues a frame on one client
func (c *Client) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow client: the hub will reap it on the next broadcast
	}
}

// readPump reads input-lock and typing frames from the client
func (c *Client) readPump() {
	defer func() {
		c.hub.locks.ReleaseAllFor(c.clientID)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[WS] Ignoring malformed client frame: %v", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame clientFrame) {
	locks := c.hub.locks

	switch frame.Type {
	case "input_lock_acquire":
		result := acquireFailOpen(locks, frame.SessionID, c.clientID)
		c.sendFrame(Frame{Type: "input_lock_result", Payload: result, SessionID: frame.SessionID})

	case "input_lock_release":
		locks.Release(frame.SessionID, c.clientID)

	case "input_lock_heartbeat":
		result := locks.Heartbeat(frame.SessionID, c.clientID)
		c.sendFrame(Frame{Type: "input_lock_heartbeat_ack", Payload: result, SessionID: frame.SessionID})

	case "typing_indicator":
		locks.SetTyping(frame.SessionID, c.clientID, frame.Typing)

	default:
		log.Printf("[WS] Unknown client frame type %q", frame.Type)
	}
}

// acquireFailOpen runs the acquire with the fail-open bound: if the manager
// does not answer in time the client proceeds as if granted.
func acquireFailOpen(locks *inputlock.Manager, sessionID, clientID string) inputlock.AcquireResult {
	done := make(chan inputlock.AcquireResult, 1)
	go func() { done <- locks.Acquire(sessionID, clientID) }()

	select {
	case result := <-done:
		return result
	case <-time.After(AcquireFailOpenTimeout):
		log.Printf("[WS] Lock acquire timed out for session %s, failing open", sessionID)
		return inputlock.AcquireResult{Granted: true, SessionID: sessionID, HolderID: clientID}
	}
}

// writePump writes queued messages to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
