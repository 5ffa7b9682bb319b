package registry

import (
	"reflect"
	"testing"

	"github.com/fingerworks/finger/internal/types"
)

func TestBuildDefinitions_ConfigProviders(t *testing.T) {
	in := Inputs{
		Configs: []types.AgentFileConfig{
			{ID: "planner", Name: "Planner", Role: types.RoleOrchestrator, Provider: "iflow"},
			{ID: "coder", Name: "Coder", Role: types.RoleExecutor, Provider: "openai"},
		},
	}

	defs := BuildDefinitions(in)

	planner, ok := defs["planner"]
	if !ok {
		t.Fatal("planner definition missing")
	}
	if planner.Source != types.SourceAgentJSON {
		t.Errorf("Source = %s, want agent-json", planner.Source)
	}
	if !planner.HasImplementation(IflowImplID) {
		t.Errorf("planner missing iflow implementation: %+v", planner.Implementations)
	}
	if planner.Implementations[0].Kind != types.KindIflow {
		t.Errorf("iflow implementation kind = %s", planner.Implementations[0].Kind)
	}

	coder := defs["coder"]
	if !coder.HasImplementation("provider:openai") {
		t.Errorf("coder missing provider implementation: %+v", coder.Implementations)
	}
}

func TestBuildDefinitions_ModuleContribution(t *testing.T) {
	in := Inputs{
		Modules: []types.ModuleInfo{
			{ID: "executor", Type: "agent"},
			{ID: "reviewer-loop", Type: "output", Metadata: map[string]string{"type": "review-loop"}},
			{ID: "mock-executor", Type: "agent"},
			{ID: "http-gateway", Type: "agent"},
		},
	}

	defs := BuildDefinitions(in)

	if _, ok := defs["executor"]; !ok {
		t.Error("executor definition missing")
	}
	if _, ok := defs["mock-executor"]; ok {
		t.Error("mock module should be filtered")
	}
	if _, ok := defs["http-gateway"]; ok {
		t.Error("gateway module should be filtered")
	}

	// -loop module binds both the loop id and the de-suffixed agent
	loopDef, ok := defs["reviewer-loop"]
	if !ok {
		t.Fatal("reviewer-loop definition missing")
	}
	if !loopDef.HasImplementation("native:reviewer-loop") {
		t.Errorf("reviewer-loop implementations: %+v", loopDef.Implementations)
	}
	base, ok := defs["reviewer"]
	if !ok {
		t.Fatal("de-suffixed reviewer definition missing")
	}
	if !base.HasImplementation("native:reviewer-loop") {
		t.Errorf("reviewer implementations: %+v", base.Implementations)
	}
	if base.Role != types.RoleReviewer {
		t.Errorf("reviewer role = %s", base.Role)
	}
}

func TestBuildDefinitions_DeploymentUpgrade(t *testing.T) {
	in := Inputs{
		Deployments: []types.Deployment{
			{AgentID: "ghost", ImplementationID: "native:ghost", ModuleID: "ghost", SessionID: "s"},
		},
	}

	defs := BuildDefinitions(in)

	ghost, ok := defs["ghost"]
	if !ok {
		t.Fatal("deployment-created definition missing")
	}
	if ghost.Source != types.SourceDeployment {
		t.Errorf("Source = %s, want deployment", ghost.Source)
	}
	impl := ghost.Implementations[0]
	if impl.ImplID != "native:ghost" || impl.Status != types.ImplUnavailable {
		t.Errorf("implementation = %+v, want unavailable native:ghost", impl)
	}
}

func TestBuildDefinitions_TemplatesGuaranteeCanonicalIDs(t *testing.T) {
	in := Inputs{
		Modules:   []types.ModuleInfo{{ID: "executor", Type: "agent"}},
		Templates: types.DefaultStartupTemplates(),
	}

	defs := BuildDefinitions(in)

	for _, id := range []string{"orchestrator", "researcher", "executor", "coder", "reviewer"} {
		if _, ok := defs[id]; !ok {
			t.Errorf("canonical id %s missing from catalog", id)
		}
	}

	// Template availability tracks module registration
	orch := defs["orchestrator"]
	if orch.Implementations[0].Status != types.ImplUnavailable {
		t.Errorf("orchestrator should be unavailable without its module: %+v", orch.Implementations)
	}

	// Module-backed executor came from the module pass, not the template
	exec := defs["executor"]
	if exec.Source != types.SourceModule {
		t.Errorf("executor source = %s, want module", exec.Source)
	}
}

func TestBuildDefinitions_SyntheticUnboundImplementation(t *testing.T) {
	in := Inputs{
		Configs: []types.AgentFileConfig{{ID: "bare"}},
	}

	defs := BuildDefinitions(in)

	bare := defs["bare"]
	if len(bare.Implementations) != 1 || bare.Implementations[0].ImplID != types.UnboundImplID {
		t.Errorf("expected synthetic unbound implementation, got %+v", bare.Implementations)
	}
	if bare.Implementations[0].Status != types.ImplUnavailable {
		t.Error("synthetic implementation must be unavailable")
	}
}

func TestBuildDefinitions_TagsContainRole(t *testing.T) {
	in := Inputs{
		Configs: []types.AgentFileConfig{
			{ID: "r1", Role: types.RoleReviewer, Tags: []string{"zeta", "alpha"}},
		},
	}

	defs := BuildDefinitions(in)

	r1 := defs["r1"]
	found := false
	for _, tag := range r1.Tags {
		if tag == string(types.RoleReviewer) {
			found = true
		}
	}
	if !found {
		t.Errorf("tags %v missing role label", r1.Tags)
	}
	sorted := append([]string{}, r1.Tags...)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1] > sorted[i] {
			t.Errorf("tags not sorted: %v", r1.Tags)
		}
	}
}

func TestBuildDefinitions_Deterministic(t *testing.T) {
	in := Inputs{
		Configs: []types.AgentFileConfig{
			{ID: "a", Role: types.RoleExecutor, Provider: "iflow"},
		},
		Modules: []types.ModuleInfo{
			{ID: "a", Type: "agent"},
			{ID: "b-loop", Type: "output", Metadata: map[string]string{"role": "executor-loop"}},
		},
		Deployments: []types.Deployment{
			{AgentID: "a", ImplementationID: "native:a", ModuleID: "a", SessionID: "s"},
		},
		Templates: types.DefaultStartupTemplates(),
	}

	first := BuildDefinitions(in)
	second := BuildDefinitions(in)
	if !reflect.DeepEqual(first, second) {
		t.Error("BuildDefinitions is not deterministic for identical inputs")
	}
}

func TestIsAgentIdentityModule(t *testing.T) {
	tests := []struct {
		name string
		m    types.ModuleInfo
		want bool
	}{
		{"agent type", types.ModuleInfo{ID: "x", Type: "agent"}, true},
		{"plain output", types.ModuleInfo{ID: "x", Type: "output"}, false},
		{"output with loop hint", types.ModuleInfo{ID: "x", Type: "output", Metadata: map[string]string{"type": "agent-loop"}}, true},
		{"output with orchestrator role", types.ModuleInfo{ID: "x", Type: "output", Metadata: map[string]string{"role": "orchestrator"}}, true},
		{"output with executor hint", types.ModuleInfo{ID: "x", Type: "output", Metadata: map[string]string{"type": "executor"}}, true},
		{"output with review hint", types.ModuleInfo{ID: "x", Type: "output", Metadata: map[string]string{"role": "reviewer"}}, true},
		{"rust kernel bridge", types.ModuleInfo{ID: "x", Type: "output", Bridge: "rust-kernel-v2"}, true},
		{"codex finger id", types.ModuleInfo{ID: "finger-main", Type: "output", Provider: "codex"}, true},
		{"codex chat id", types.ModuleInfo{ID: "chat-codex-1", Type: "output", Provider: "codex"}, true},
		{"codex unrelated id", types.ModuleInfo{ID: "other", Type: "output", Provider: "codex"}, false},
		{"storage type", types.ModuleInfo{ID: "x", Type: "storage"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAgentIdentityModule(tt.m); got != tt.want {
				t.Errorf("IsAgentIdentityModule(%+v) = %v, want %v", tt.m, got, tt.want)
			}
		})
	}
}

func TestIsIgnorableModule(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"mock-agent", true},
		{"echo-service", true},
		{"debug-agent-2", true},
		{"http-gateway", true},
		{"executor", false},
		{"reviewer-loop", false},
	}

	for _, tt := range tests {
		if got := IsIgnorableModule(tt.id); got != tt.want {
			t.Errorf("IsIgnorableModule(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
