// Package natsbridge connects remote agent modules to the message hub over
// an embedded NATS server. A remote module registers on a well-known subject
// and the bridge exposes it to the hub as a regular module.
package natsbridge

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig holds configuration for the embedded NATS server
type EmbeddedServerConfig struct {
	Port       int // Port to listen on (0 picks the NATS default)
	MaxPayload int // Max message payload in bytes (0 picks 1MB)
}

// EmbeddedServer wraps the in-process NATS server
type EmbeddedServer struct {
	server  *server.Server
	config  EmbeddedServerConfig
	mu      sync.Mutex
	running bool
}

// NewEmbeddedServer creates a new embedded NATS server instance
func NewEmbeddedServer(config EmbeddedServerConfig) *EmbeddedServer {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = 1024 * 1024
	}
	return &EmbeddedServer{config: config}
}

// Start starts the embedded NATS server and waits until it accepts
// connections
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: int32(e.config.MaxPayload),
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	e.server = ns

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("server not ready for connections")
	}

	e.running = true
	log.Printf("[NATS] Embedded server listening on nats://127.0.0.1:%d", e.config.Port)
	return nil
}

// URL returns the client connection URL
func (e *EmbeddedServer) URL() string {
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// Shutdown gracefully shuts down the NATS server
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.server == nil {
		return
	}

	e.server.Shutdown()
	e.server.WaitForShutdown()

	e.running = false
	e.server = nil
	log.Printf("[NATS] Embedded server stopped")
}
