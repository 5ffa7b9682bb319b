package registry

import (
	"strings"

	"github.com/fingerworks/finger/internal/types"
)

// Module types that can contribute agent implementations
const (
	ModuleTypeAgent  = "agent"
	ModuleTypeOutput = "output"
)

// LoopSuffix marks loop-runner modules that also bind to the de-suffixed agent id
const LoopSuffix = "-loop"

// Gateway modules are plumbing, never agents
var gatewayModuleIDs = map[string]bool{
	"http-gateway": true,
	"ws-gateway":   true,
	"chat-gateway": true,
}

// IsIgnorableModule filters modules that must never surface in the catalog:
// mock/echo/debug doubles and the gateway plumbing.
func IsIgnorableModule(moduleID string) bool {
	id := strings.ToLower(moduleID)
	if gatewayModuleIDs[id] {
		return true
	}
	for _, marker := range []string{"mock", "echo", "debug-agent"} {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}

// IsAgentIdentityModule decides whether a registered module represents an
// agent. Type "agent" always qualifies; type "output" qualifies when its
// metadata, bridge, or provider hints at an agent runner.
func IsAgentIdentityModule(m types.ModuleInfo) bool {
	if m.Type == ModuleTypeAgent {
		return true
	}
	if m.Type != ModuleTypeOutput {
		return false
	}

	hint := strings.ToLower(m.Metadata["type"] + " " + m.Metadata["role"])
	for _, marker := range []string{"loop", "orchestr", "executor", "review"} {
		if strings.Contains(hint, marker) {
			return true
		}
	}

	if strings.Contains(strings.ToLower(m.Bridge), "rust-kernel") {
		return true
	}

	if strings.EqualFold(m.Provider, "codex") {
		id := strings.ToLower(m.ID)
		if strings.Contains(id, "finger") || strings.Contains(id, "chat-codex") {
			return true
		}
	}
	return false
}

// AgentIDsForModule lists the agent ids a module binds to: its own id, plus
// the de-suffixed id for "-loop" runner modules.
func AgentIDsForModule(moduleID string) []string {
	ids := []string{moduleID}
	if strings.HasSuffix(moduleID, LoopSuffix) {
		base := strings.TrimSuffix(moduleID, LoopSuffix)
		if base != "" {
			ids = append(ids, base)
		}
	}
	return ids
}

// RoleForModule infers a role from module metadata hints, defaulting to executor
func RoleForModule(m types.ModuleInfo) types.AgentRole {
	hint := strings.ToLower(m.Metadata["type"] + " " + m.Metadata["role"] + " " + m.ID)
	switch {
	case strings.Contains(hint, "orchestr"):
		return types.RoleOrchestrator
	case strings.Contains(hint, "review"):
		return types.RoleReviewer
	case strings.Contains(hint, "search"), strings.Contains(hint, "research"):
		return types.RoleSearcher
	default:
		return types.RoleExecutor
	}
}
