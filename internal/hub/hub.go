// Package hub implements module-addressed request/reply between the broker
// core and the registered agent modules.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/fingerworks/finger/internal/types"
)

// ErrModuleNotFound is returned when a send targets an unregistered module
var ErrModuleNotFound = errors.New("module not found")

// Handler processes a payload addressed to a module. Handlers may block; the
// hub runs them on their own goroutine and presents a uniform awaitable that
// honours caller cancellation.
type Handler func(ctx context.Context, payload map[string]any) (any, error)

// Route matches payloads to a module when the target is not a direct module id
type Route struct {
	ModuleID string
	Match    func(payload map[string]any) bool
}

type moduleEntry struct {
	info    types.ModuleInfo
	handler Handler
}

// Hub is the named-module message hub
type Hub struct {
	mu            sync.RWMutex
	modules       map[string]*moduleEntry
	routes        []Route
	defaultTarget string
}

// New creates an empty hub
func New() *Hub {
	return &Hub{modules: make(map[string]*moduleEntry)}
}

// Register adds or replaces a module. Re-registering the same id swaps the
// handler in place so callers never observe a missing module.
func (h *Hub) Register(info types.ModuleInfo, handler Handler) error {
	if info.ID == "" {
		return fmt.Errorf("module id is required")
	}
	if handler == nil {
		return fmt.Errorf("module %s: handler is required", info.ID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.modules[info.ID]; exists {
		log.Printf("[HUB] Replacing module %s", info.ID)
	}
	h.modules[info.ID] = &moduleEntry{info: info, handler: handler}
	return nil
}

// Unregister removes a module
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.modules, id)
}

// Has reports whether a module is registered
func (h *Hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.modules[id]
	return ok
}

// Modules returns a snapshot of registered module infos, sorted by id
func (h *Hub) Modules() []types.ModuleInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.ModuleInfo, 0, len(h.modules))
	for _, entry := range h.modules {
		out = append(out, entry.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRoute appends a route predicate evaluated against payloads when the
// target is not a registered module id
func (h *Hub) AddRoute(route Route) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, route)
}

// SetDefaultRoute configures the fallback module that matches any payload
func (h *Hub) SetDefaultRoute(moduleID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultTarget = moduleID
}

// Resolve maps a target to a module id: direct id first, then route
// predicates in registration order, then the default fallback route.
func (h *Hub) Resolve(target string, payload map[string]any) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.modules[target]; ok {
		return target, true
	}
	for _, route := range h.routes {
		if route.Match != nil && route.Match(payload) {
			return route.ModuleID, true
		}
	}
	if h.defaultTarget != "" {
		return h.defaultTarget, true
	}
	return "", false
}

// SendToModule invokes the named module's handler and waits for its reply.
// A missing module fails with ErrModuleNotFound. Handler panics are converted
// to errors at this boundary.
func (h *Hub) SendToModule(ctx context.Context, moduleID string, payload map[string]any) (any, error) {
	h.mu.RLock()
	entry, ok := h.modules[moduleID]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	return h.invoke(ctx, moduleID, entry.handler, payload)
}

type handlerResult struct {
	value any
	err   error
}

func (h *Hub) invoke(ctx context.Context, moduleID string, handler Handler, payload map[string]any) (any, error) {
	ch := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[HUB] ERROR: module %s handler panic: %v", moduleID, r)
				ch <- handlerResult{err: fmt.Errorf("module %s handler panic: %v", moduleID, r)}
			}
		}()
		value, err := handler(ctx, payload)
		ch <- handlerResult{value: value, err: err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
