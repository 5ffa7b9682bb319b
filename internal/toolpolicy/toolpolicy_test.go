package toolpolicy

import (
	"reflect"
	"testing"

	"github.com/fingerworks/finger/internal/types"
)

func newGateWithTools(t *testing.T) *Gate {
	t.Helper()
	g := NewGate()
	g.RegisterTool(Tool{Name: "shell", Policy: PolicyAllow, ExecutorID: "exec-shell"})
	g.RegisterTool(Tool{Name: "web-search", Policy: PolicyAllow, ExecutorID: "exec-web"})
	g.RegisterTool(Tool{Name: "file-read", Policy: PolicyAllow, ExecutorID: "exec-fs"})
	g.RegisterTool(Tool{Name: "raw-socket", Policy: PolicyDeny, ExecutorID: "exec-net"})
	return g
}

func TestResolveToolAccess_GlobalAllowedByDefault(t *testing.T) {
	g := newGateWithTools(t)

	access := g.ResolveToolAccess("executor")
	want := []string{"file-read", "shell", "web-search"}
	if !reflect.DeepEqual(access.ExposedTools, want) {
		t.Errorf("ExposedTools = %v, want %v", access.ExposedTools, want)
	}
}

func TestResolveToolAccess_WhitelistReplacesGlobal(t *testing.T) {
	g := newGateWithTools(t)
	g.SetAgentToolWhitelist("reviewer", []string{"web-search", "file-read"})

	access := g.ResolveToolAccess("reviewer")
	want := []string{"file-read", "web-search"}
	if !reflect.DeepEqual(access.ExposedTools, want) {
		t.Errorf("ExposedTools = %v, want %v", access.ExposedTools, want)
	}
}

func TestResolveToolAccess_BlacklistAlwaysWins(t *testing.T) {
	g := newGateWithTools(t)
	g.SetAgentToolWhitelist("executor", []string{"shell", "web-search"})
	g.SetAgentToolBlacklist("executor", []string{"Shell"})

	access := g.ResolveToolAccess("executor")
	want := []string{"web-search"}
	if !reflect.DeepEqual(access.ExposedTools, want) {
		t.Errorf("ExposedTools = %v, want %v", access.ExposedTools, want)
	}

	// Exposed set must be disjoint from the blacklist
	for _, name := range access.ExposedTools {
		for _, blocked := range access.Blacklist {
			if name == blocked {
				t.Errorf("Tool %s is both exposed and blacklisted", name)
			}
		}
	}
}

func TestResolveToolAccess_DeniedToolNeverExposed(t *testing.T) {
	g := newGateWithTools(t)

	access := g.ResolveToolAccess("anyone")
	for _, name := range access.ExposedTools {
		if name == "raw-socket" {
			t.Error("Denied tool leaked into exposed set")
		}
	}
}

func TestResolveToolAccess_DeduplicatesAndSorts(t *testing.T) {
	g := newGateWithTools(t)
	g.SetAgentToolWhitelist("executor", []string{"web-search", "shell", "web-search", "", "Shell"})

	access := g.ResolveToolAccess("executor")
	want := []string{"shell", "web-search"}
	if !reflect.DeepEqual(access.ExposedTools, want) {
		t.Errorf("ExposedTools = %v, want %v", access.ExposedTools, want)
	}
}

func TestApplyConfigs_SeedsAuthorizationFlag(t *testing.T) {
	g := newGateWithTools(t)
	g.ApplyConfigs([]types.AgentFileConfig{
		{
			ID: "coder",
			Tools: &types.AgentToolsConfig{
				Whitelist:             []string{"shell"},
				AuthorizationRequired: true,
			},
		},
	})

	access := g.ResolveToolAccess("coder")
	if !access.AuthorizationRequired {
		t.Error("Expected AuthorizationRequired from config")
	}
	if !reflect.DeepEqual(access.ExposedTools, []string{"shell"}) {
		t.Errorf("ExposedTools = %v, want [shell]", access.ExposedTools)
	}
}

func TestSetAgentToolWhitelist_ReplacesAtomically(t *testing.T) {
	g := newGateWithTools(t)
	g.SetAgentToolWhitelist("executor", []string{"shell"})
	g.SetAgentToolWhitelist("executor", []string{"web-search"})

	access := g.ResolveToolAccess("executor")
	if !reflect.DeepEqual(access.Whitelist, []string{"web-search"}) {
		t.Errorf("Whitelist = %v, want [web-search]", access.Whitelist)
	}
}
