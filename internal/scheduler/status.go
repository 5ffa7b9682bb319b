package scheduler

import (
	"sort"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/types"
)

// CatalogLayer selects how much of the runtime view a catalog request gets
type CatalogLayer string

const (
	LayerSummary    CatalogLayer = "summary"
	LayerExecution  CatalogLayer = "execution"
	LayerGovernance CatalogLayer = "governance"
	LayerFull       CatalogLayer = "full"
)

// AgentView is the per-agent slice of the runtime view
type AgentView struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Role             types.AgentRole          `json:"role"`
	Status           types.AgentRuntimeStatus `json:"status"`
	Source           types.DefinitionSource   `json:"source,omitempty"`
	Tags             []string                 `json:"tags,omitempty"`
	Implementations  []types.Implementation   `json:"implementations,omitempty"`
	Deployments      []types.Deployment       `json:"deployments,omitempty"`
	Capacity         int                      `json:"capacity,omitempty"`
	ActiveDispatches int                      `json:"activeDispatches"`
	QueueDepth       int                      `json:"queueDepth"`
	Profile          *types.RuntimeProfile    `json:"profile,omitempty"`
	Quota            *types.QuotaView         `json:"quota,omitempty"`
	ToolAccess       any                      `json:"toolAccess,omitempty"`
	LastEvent        *types.LastEvent         `json:"lastEvent,omitempty"`
}

// RuntimeView is the full control-surface read model
type RuntimeView struct {
	Agents           []AgentView             `json:"agents"`
	Workflows        []Workflow              `json:"workflows,omitempty"`
	StartupTargets   []string                `json:"startupTargets"`
	StartupTemplates []types.StartupTemplate `json:"startupTemplates"`
}

// ToolAccessFunc supplies the composed tool access for governance layers
type ToolAccessFunc func(agentID string) any

// SetToolAccessFunc wires the tool policy gate into catalog assembly
func (s *Scheduler) SetToolAccessFunc(fn ToolAccessFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolAccess = fn
}

// SetStartupTemplates records the baseline templates surfaced by the view
func (s *Scheduler) SetStartupTemplates(templates []types.StartupTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append([]types.StartupTemplate{}, templates...)
}

// AgentStatus derives the catalog status of an agent by precedence:
// error, running, queued, paused, waiting_input, completed, interrupted, idle.
func (s *Scheduler) AgentStatus(agentID string) types.AgentRuntimeStatus {
	deployments := s.deploymentsFor(agentID)
	for _, dep := range deployments {
		if dep.Status == types.DeployError {
			return types.AgentError
		}
	}

	if s.ActiveCount(agentID) > 0 || s.agentInProgressInWorkflow(agentID) {
		return types.AgentRunning
	}
	if s.QueueDepth(agentID) > 0 {
		return types.AgentQueued
	}
	for _, dep := range deployments {
		if dep.Status == types.DeployPaused {
			return types.AgentPaused
		}
	}

	if last, ok := s.lastEvents.Get(agentID); ok {
		switch last.Status {
		case "waiting_input":
			return types.AgentWaitingInput
		case "completed", "passed", "closed":
			return types.AgentCompleted
		case "interrupted", "cancel":
			return types.AgentInterrupted
		}
	}
	return types.AgentIdle
}

// View assembles the full runtime view
func (s *Scheduler) View() RuntimeView {
	return s.viewAt(LayerFull)
}

// Catalog assembles the runtime view at the requested capability layer.
// Unknown layers fall back to summary.
func (s *Scheduler) Catalog(layer CatalogLayer) RuntimeView {
	switch layer {
	case LayerSummary, LayerExecution, LayerGovernance, LayerFull:
	default:
		layer = LayerSummary
	}
	return s.viewAt(layer)
}

func (s *Scheduler) viewAt(layer CatalogLayer) RuntimeView {
	defs := map[string]types.AgentDefinition{}
	if s.defs != nil {
		defs = s.defs()
	}

	s.mu.Lock()
	templates := append([]types.StartupTemplate{}, s.templates...)
	toolAccess := s.toolAccess
	s.mu.Unlock()

	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	view := RuntimeView{
		StartupTemplates: templates,
		StartupTargets:   templateTargets(templates),
	}

	for _, id := range ids {
		def := defs[id]
		av := AgentView{
			ID:     def.ID,
			Name:   def.Name,
			Role:   def.Role,
			Status: s.AgentStatus(def.ID),
		}

		if layer == LayerExecution || layer == LayerFull {
			av.Source = def.Source
			av.Tags = def.Tags
			av.Implementations = def.Implementations
			av.Deployments = s.deploymentsFor(def.ID)
			av.ActiveDispatches = s.ActiveCount(def.ID)
			av.QueueDepth = s.QueueDepth(def.ID)
			if dep := s.latestDeployment(def.ID); dep != nil {
				av.Capacity = dep.Capacity()
			}
			if last, ok := s.lastEvents.Get(def.ID); ok {
				av.LastEvent = &last
			}
		}

		if layer == LayerGovernance || layer == LayerFull {
			profile := s.RuntimeProfileFor(def.ID)
			av.Profile = &profile
			quota := s.ResolveQuota(def.ID, "")
			av.Quota = &quota
			if toolAccess != nil {
				av.ToolAccess = toolAccess(def.ID)
			}
		}

		view.Agents = append(view.Agents, av)
	}

	if layer == LayerFull {
		view.Workflows = s.Workflows()
	}
	return view
}

func templateTargets(templates []types.StartupTemplate) []string {
	targets := make([]string, 0, len(templates))
	for _, tpl := range templates {
		targets = append(targets, tpl.AgentID)
	}
	sort.Strings(targets)
	return targets
}

// PublishCatalog emits an agent_runtime_catalog event carrying the summary view
func (s *Scheduler) PublishCatalog(sessionID string) {
	view := s.Catalog(LayerSummary)
	s.bus.Publish(events.New(events.EventCatalog, sessionID, "", view))
}
