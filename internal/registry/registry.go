// Package registry builds the agent catalog by merging agent config files,
// registered modules, live deployments and the baseline startup templates.
package registry

import (
	"sort"
	"strings"

	"github.com/fingerworks/finger/internal/types"
)

// Inputs are the three asynchronous sources of truth plus the baseline
// templates. BuildDefinitions is a pure function of these.
type Inputs struct {
	Configs     []types.AgentFileConfig
	Modules     []types.ModuleInfo
	Deployments []types.Deployment
	Templates   []types.StartupTemplate
}

// NativeImplID builds the implementation id for a native module binding
func NativeImplID(moduleID string) string {
	return "native:" + moduleID
}

// ProviderImplID builds the implementation id for a non-iflow provider
func ProviderImplID(provider string) string {
	return "provider:" + provider
}

// IflowImplID is the implementation id for iflow-backed agents
const IflowImplID = "iflow"

// BuildDefinitions merges the inputs into the catalog. Precedence when fields
// collide follows source order: config files, then agent-identity modules,
// then deployments, then templates. Output ordering is deterministic:
// implementations sorted by id, tags sorted, and the map keys carry no order.
func BuildDefinitions(in Inputs) map[string]types.AgentDefinition {
	defs := make(map[string]*types.AgentDefinition)

	registered := make(map[string]bool, len(in.Modules))
	for _, m := range in.Modules {
		registered[m.ID] = true
	}

	// 1. Loaded agent JSON configs
	for _, cfg := range in.Configs {
		if cfg.ID == "" {
			continue
		}
		def := ensureDefinition(defs, cfg.ID, cfg.Name, cfg.Role, types.SourceAgentJSON)
		def.Name = nonEmpty(cfg.Name, def.Name)
		if cfg.Role != "" {
			def.Role = cfg.Role
		}
		def.Source = types.SourceAgentJSON

		switch {
		case strings.EqualFold(cfg.Provider, "iflow"):
			addImplementation(def, types.Implementation{
				ImplID: IflowImplID,
				Kind:   types.KindIflow,
				Status: types.ImplAvailable,
			})
		case cfg.Provider != "":
			addImplementation(def, types.Implementation{
				ImplID:   ProviderImplID(cfg.Provider),
				Kind:     types.KindNative,
				Provider: cfg.Provider,
				Status:   types.ImplAvailable,
			})
		}

		for _, impl := range cfg.Implementations {
			if impl.Enabled != nil && !*impl.Enabled {
				continue
			}
			status := types.ImplAvailable
			if impl.ModuleID != "" && !registered[impl.ModuleID] {
				status = types.ImplUnavailable
			}
			addImplementation(def, types.Implementation{
				ImplID:   impl.ID,
				Kind:     implKind(impl.Kind),
				ModuleID: impl.ModuleID,
				Status:   status,
			})
		}

		for _, tag := range cfg.Tags {
			def.EnsureTag(tag)
		}
	}

	// 2. Registered modules with agent identity
	for _, m := range in.Modules {
		if IsIgnorableModule(m.ID) || !IsAgentIdentityModule(m) {
			continue
		}
		for _, agentID := range AgentIDsForModule(m.ID) {
			def := ensureDefinition(defs, agentID, agentID, RoleForModule(m), types.SourceModule)
			addImplementation(def, types.Implementation{
				ImplID:   NativeImplID(m.ID),
				Kind:     types.KindNative,
				ModuleID: m.ID,
				Provider: m.Provider,
				Status:   types.ImplAvailable,
			})
		}
	}

	// 3. Existing deployments add or upgrade definitions
	for _, d := range in.Deployments {
		if d.AgentID == "" {
			continue
		}
		def := ensureDefinition(defs, d.AgentID, d.AgentID, types.RoleExecutor, types.SourceDeployment)
		if d.ImplementationID != "" && !def.HasImplementation(d.ImplementationID) {
			status := types.ImplAvailable
			if d.ModuleID != "" && !registered[d.ModuleID] {
				status = types.ImplUnavailable
			}
			addImplementation(def, types.Implementation{
				ImplID:   d.ImplementationID,
				Kind:     types.KindNative,
				ModuleID: d.ModuleID,
				Status:   status,
			})
		}
	}

	// 4. Baseline startup templates guarantee the canonical ids
	for _, tpl := range in.Templates {
		if tpl.AgentID == "" {
			continue
		}
		if _, exists := defs[tpl.AgentID]; exists {
			continue
		}
		def := ensureDefinition(defs, tpl.AgentID, tpl.Name, tpl.Role, types.SourceRuntimeConfig)
		status := types.ImplUnavailable
		if registered[tpl.ModuleID] {
			status = types.ImplAvailable
		}
		addImplementation(def, types.Implementation{
			ImplID:   NativeImplID(tpl.ModuleID),
			Kind:     types.KindNative,
			ModuleID: tpl.ModuleID,
			Status:   status,
		})
	}

	out := make(map[string]types.AgentDefinition, len(defs))
	for id, def := range defs {
		finalize(def)
		out[id] = *def
	}
	return out
}

func ensureDefinition(defs map[string]*types.AgentDefinition, id, name string, role types.AgentRole, source types.DefinitionSource) *types.AgentDefinition {
	if def, ok := defs[id]; ok {
		return def
	}
	if role == "" {
		role = types.RoleExecutor
	}
	def := &types.AgentDefinition{
		ID:     id,
		Name:   nonEmpty(name, id),
		Role:   role,
		Source: source,
	}
	defs[id] = def
	return def
}

func addImplementation(def *types.AgentDefinition, impl types.Implementation) {
	if impl.ImplID == "" || def.HasImplementation(impl.ImplID) {
		return
	}
	def.Implementations = append(def.Implementations, impl)
}

// finalize enforces the definition invariants: at least one implementation
// (synthetic unbound otherwise), implementations sorted by id, and the role
// label present in the tag set.
func finalize(def *types.AgentDefinition) {
	if len(def.Implementations) == 0 {
		def.Implementations = []types.Implementation{{
			ImplID: types.UnboundImplID,
			Kind:   types.KindNative,
			Status: types.ImplUnavailable,
		}}
	}
	sort.Slice(def.Implementations, func(i, j int) bool {
		return def.Implementations[i].ImplID < def.Implementations[j].ImplID
	})
	def.EnsureTag(string(def.Role))
}

func implKind(kind string) types.ImplementationKind {
	if strings.EqualFold(kind, string(types.KindIflow)) {
		return types.KindIflow
	}
	return types.KindNative
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
