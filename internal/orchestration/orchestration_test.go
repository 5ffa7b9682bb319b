package orchestration

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/registry"
	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
)

func testConfig() *Config {
	return &Config{
		Version:         ConfigVersion,
		ActiveProfileID: "default",
		Profiles: []Profile{
			{
				ID:           "default",
				ReviewPolicy: "strict",
				Agents: []ProfileAgent{
					{AgentID: "orchestrator", Enabled: true, InstanceCount: 1},
					{AgentID: "executor", Enabled: true, InstanceCount: 2},
				},
			},
			{
				ID: "lean",
				Agents: []ProfileAgent{
					{AgentID: "executor", Enabled: true, InstanceCount: 1},
				},
			},
		},
	}
}

func newApplier(t *testing.T) (*Applier, *scheduler.Scheduler, *workspace.Manager) {
	t.Helper()
	moduleHub := hub.New()
	bus := events.NewBus(nil)

	var sched *scheduler.Scheduler
	defs := func() map[string]types.AgentDefinition {
		return registry.BuildDefinitions(registry.Inputs{
			Modules:     moduleHub.Modules(),
			Deployments: sched.Deployments(),
			Templates:   types.DefaultStartupTemplates(),
		})
	}
	sched = scheduler.New(moduleHub, bus, defs)
	sessions := workspace.NewManager(t.TempDir())
	return NewApplier(sched, sessions, defs), sched, sessions
}

func enabledAgents(sched *scheduler.Scheduler) []string {
	seen := map[string]bool{}
	var out []string
	for _, dep := range sched.Deployments() {
		if dep.Enabled && !seen[dep.AgentID] {
			seen[dep.AgentID] = true
			out = append(out, dep.AgentID)
		}
	}
	sort.Strings(out)
	return out
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no profiles", func(c *Config) { c.Profiles = nil }, true},
		{"empty profile id", func(c *Config) { c.Profiles[0].ID = "" }, true},
		{"duplicate profile id", func(c *Config) { c.Profiles[1].ID = "default" }, true},
		{"missing active", func(c *Config) { c.ActiveProfileID = "" }, true},
		{"unknown active", func(c *Config) { c.ActiveProfileID = "nope" }, true},
		{"empty agent id", func(c *Config) { c.Profiles[0].Agents[0].AgentID = "" }, true},
		{"negative instances", func(c *Config) { c.Profiles[0].Agents[0].InstanceCount = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestration.json")

	cfg := testConfig()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Errorf("round trip mismatch:\n%+v\n%+v", cfg, loaded)
	}
}

func TestConfig_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestration.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestApply_DeploysActiveProfile(t *testing.T) {
	applier, sched, sessions := newApplier(t)

	if err := applier.Apply(testConfig()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := []string{"executor", "orchestrator"}
	if got := enabledAgents(sched); !reflect.DeepEqual(got, want) {
		t.Errorf("enabled agents = %v, want %v", got, want)
	}
	if applier.ReviewPolicy() != "strict" {
		t.Errorf("ReviewPolicy = %q", applier.ReviewPolicy())
	}

	// Orchestrator deploys to the root session, executor to a child
	root := sessions.EnsureOrchestratorRootSession()
	for _, dep := range sched.Deployments() {
		switch dep.AgentID {
		case "orchestrator":
			if dep.SessionID != root.ID {
				t.Errorf("orchestrator session = %s, want root %s", dep.SessionID, root.ID)
			}
		case "executor":
			if !sessions.IsRuntimeChildSession(dep.SessionID) {
				t.Errorf("executor session %s is not a runtime child", dep.SessionID)
			}
			if dep.InstanceCount != 2 {
				t.Errorf("executor instances = %d, want 2", dep.InstanceCount)
			}
		}
	}

	if sessions.Current() != root.ID {
		t.Error("current session is not the root after apply")
	}
}

func TestApply_ReconciliationRetiresAbsentAgents(t *testing.T) {
	applier, sched, sessions := newApplier(t)
	root := sessions.EnsureOrchestratorRootSession()

	// Start with deployments {A=orchestrator, B=reviewer}
	sched.Deploy(types.DeployRequest{AgentID: "orchestrator", ModuleID: "orchestrator", SessionID: root.ID})
	sched.Deploy(types.DeployRequest{AgentID: "reviewer", ModuleID: "reviewer", SessionID: root.ID})

	// Profile lists {A=orchestrator, C=executor}
	cfg := &Config{
		Version:         ConfigVersion,
		ActiveProfileID: "p",
		Profiles: []Profile{{
			ID: "p",
			Agents: []ProfileAgent{
				{AgentID: "orchestrator", Enabled: true, InstanceCount: 1},
				{AgentID: "executor", Enabled: true, InstanceCount: 1},
			},
		}},
	}
	if err := applier.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := []string{"executor", "orchestrator"}
	if got := enabledAgents(sched); !reflect.DeepEqual(got, want) {
		t.Errorf("enabled agents = %v, want %v", got, want)
	}

	// B keeps its definition but is disabled
	if sched.RuntimeProfileFor("reviewer").Enabled {
		t.Error("reviewer should be disabled after reconciliation")
	}
	defs := registry.BuildDefinitions(registry.Inputs{
		Deployments: sched.Deployments(),
		Templates:   types.DefaultStartupTemplates(),
	})
	if _, ok := defs["reviewer"]; !ok {
		t.Error("reviewer definition vanished after retirement")
	}
}

func TestApply_Idempotent(t *testing.T) {
	applier, sched, _ := newApplier(t)

	cfg := testConfig()
	if err := applier.Apply(cfg); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	first := enabledAgents(sched)

	if err := applier.Apply(cfg); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	second := enabledAgents(sched)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("apply not idempotent: %v vs %v", first, second)
	}
}

func TestSwitch_UnknownProfile(t *testing.T) {
	applier, _, _ := newApplier(t)

	if err := applier.Switch(testConfig(), "missing"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestSwitch_AppliesNewProfile(t *testing.T) {
	applier, sched, _ := newApplier(t)

	cfg := testConfig()
	if err := applier.Apply(cfg); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := applier.Switch(cfg, "lean"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}

	if got := enabledAgents(sched); !reflect.DeepEqual(got, []string{"executor"}) {
		t.Errorf("enabled agents after switch = %v, want [executor]", got)
	}
}
