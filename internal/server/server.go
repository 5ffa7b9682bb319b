// Package server exposes the broker's HTTP/JSON control surface and the
// WebSocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fingerworks/finger/internal/control"
	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/inputlock"
	"github.com/fingerworks/finger/internal/orchestration"
	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/toolpolicy"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the server ports and limits
type Config struct {
	HTTPPort  int
	WSPort    int
	BodyLimit int64
	OrchPath  string
}

// Server is the HTTP + WebSocket control surface
type Server struct {
	cfg      Config
	router   *mux.Router
	wsHub    *WSHub
	upgrader websocket.Upgrader

	// Dependencies
	bus       *events.Bus
	moduleHub *hub.Hub
	sched     *scheduler.Scheduler
	plane     *control.Plane
	gate      *toolpolicy.Gate
	locks     *inputlock.Manager
	sessions  *workspace.Manager
	applier   *orchestration.Applier

	apiServer *http.Server
	wsServer  *http.Server
	cancelSub func()
}

// Deps bundles the collaborators the server exposes
type Deps struct {
	Bus       *events.Bus
	ModuleHub *hub.Hub
	Scheduler *scheduler.Scheduler
	Plane     *control.Plane
	Gate      *toolpolicy.Gate
	Locks     *inputlock.Manager
	Sessions  *workspace.Manager
	Applier   *orchestration.Applier
	WSCount   func(int)
}

// NewServer creates the control surface
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = types.DefaultHTTPPort
	}
	if cfg.WSPort <= 0 {
		cfg.WSPort = types.DefaultWSPort
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = types.DefaultHTTPBodyLimitBytes
	}

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		wsHub:     NewWSHub(deps.Locks, deps.WSCount),
		bus:       deps.Bus,
		moduleHub: deps.ModuleHub,
		sched:     deps.Scheduler,
		plane:     deps.Plane,
		gate:      deps.Gate,
		locks:     deps.Locks,
		sessions:  deps.Sessions,
		applier:   deps.Applier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// routes registers the HTTP API
func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.bodyLimitMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/message", s.handleMessage).Methods("POST")

	api.HandleFunc("/agents/runtime-view", s.handleRuntimeView).Methods("GET")
	api.HandleFunc("/agents/dispatch", s.handleDispatch).Methods("POST")
	api.HandleFunc("/agents/control", s.handleControl).Methods("POST")
	api.HandleFunc("/agents/deploy", s.handleDeploy).Methods("POST")
	api.HandleFunc("/agents/catalog", s.handleCatalog).Methods("GET")

	api.HandleFunc("/tools", s.handleTools).Methods("GET")
	api.HandleFunc("/tools/agents/{id}/policy", s.handleGetToolPolicy).Methods("GET")
	api.HandleFunc("/tools/agents/{id}/policy", s.handleSetToolPolicy).Methods("PUT", "POST")

	api.HandleFunc("/workflow/pause", s.handleWorkflowPause).Methods("POST")
	api.HandleFunc("/workflow/resume", s.handleWorkflowResume).Methods("POST")
	api.HandleFunc("/workflow/input", s.handleWorkflowInput).Methods("POST")

	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/messages", s.handleGetSessionMessages).Methods("GET")

	api.HandleFunc("/orchestration/config", s.handleOrchestrationConfig).Methods("POST")
	api.HandleFunc("/orchestration/config/switch", s.handleOrchestrationSwitch).Methods("POST")

	api.HandleFunc("/input-lock/{sessionId}", s.handleGetInputLock).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler exposes the API router (used by tests and embedding callers)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start brings up the API listener, the WebSocket listener and the bus
// subscription feeding the stream. Returns an error when a port is taken.
func (s *Server) Start() error {
	s.cancelSub = s.bus.SubscribeFunc(s.wsHub.BroadcastEvent)
	go s.wsHub.Run()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", s.handleWebSocket)

	s.apiServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}
	s.wsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.WSPort),
		Handler: wsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("[SERVER] HTTP API listening on :%d", s.cfg.HTTPPort)
		if err := s.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Printf("[SERVER] WebSocket listening on :%d", s.cfg.WSPort)
		if err := s.wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ws server: %w", err)
		}
	}()

	// Give the listeners a beat to surface bind failures
	select {
	case err := <-errCh:
		return err
	case <-time.After(250 * time.Millisecond):
		return nil
	}
}

// Shutdown stops both listeners
func (s *Server) Shutdown(ctx context.Context) {
	if s.cancelSub != nil {
		s.cancelSub()
	}
	if s.apiServer != nil {
		s.apiServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		s.wsServer.Shutdown(ctx)
	}
	log.Printf("[SERVER] Shut down")
}

// handleWebSocket upgrades the connection and attaches the client to the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:      s.wsHub,
		conn:     conn,
		send:     make(chan []byte, WebSocketBufferSize),
		clientID: "client-" + uuid.New().String(),
	}
	s.wsHub.Register(client)

	go client.writePump()
	go client.readPump()
}

// bodyLimitMiddleware bounds request bodies per FINGER_HTTP_BODY_LIMIT
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.BodyLimit)
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// decodeJSON decodes a request body into v
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// validationFailure reports whether a dispatch error belongs to the
// validation/not-found class that maps to HTTP 400
func validationFailure(errMsg string) bool {
	switch errMsg {
	case scheduler.ErrTargetRequired,
		scheduler.ErrAgentNotStarted,
		scheduler.ErrAgentDisabled,
		scheduler.ErrModuleNotFound:
		return true
	}
	return strings.Contains(errMsg, "requires sessionId") ||
		strings.Contains(errMsg, "not found")
}
