package types

import (
	"sort"
	"strings"
	"time"
)

// AgentRole defines the role/specialization of an agent
type AgentRole string

const (
	RoleExecutor     AgentRole = "executor"
	RoleReviewer     AgentRole = "reviewer"
	RoleOrchestrator AgentRole = "orchestrator"
	RoleSearcher     AgentRole = "searcher"
)

// DefinitionSource records where an agent definition came from
type DefinitionSource string

const (
	SourceAgentJSON     DefinitionSource = "agent-json"
	SourceRuntimeConfig DefinitionSource = "runtime-config"
	SourceModule        DefinitionSource = "module"
	SourceDeployment    DefinitionSource = "deployment"
)

// ImplementationKind distinguishes iflow-backed from native module implementations
type ImplementationKind string

const (
	KindIflow  ImplementationKind = "iflow"
	KindNative ImplementationKind = "native"
)

// ImplementationStatus is the availability of a single implementation
type ImplementationStatus string

const (
	ImplAvailable   ImplementationStatus = "available"
	ImplUnavailable ImplementationStatus = "unavailable"
)

// UnboundImplID is the synthetic implementation appended when a definition
// has no derivable implementation at all.
const UnboundImplID = "native:unbound"

// Implementation is one concrete way to run an agent
type Implementation struct {
	ImplID   string               `json:"implId"`
	Kind     ImplementationKind   `json:"kind"`
	ModuleID string               `json:"moduleId,omitempty"`
	Provider string               `json:"provider,omitempty"`
	Status   ImplementationStatus `json:"status"`
}

// AgentDefinition is the logical identity of an agent. Definitions are derived
// on demand by merging config files, registered modules, deployments and the
// baseline startup templates; they are never persisted.
type AgentDefinition struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Role            AgentRole        `json:"role"`
	Source          DefinitionSource `json:"source"`
	Implementations []Implementation `json:"implementations"`
	Tags            []string         `json:"tags"`
}

// EnsureTag adds a tag keeping the set sorted and unique
func (d *AgentDefinition) EnsureTag(tag string) {
	for _, t := range d.Tags {
		if t == tag {
			return
		}
	}
	d.Tags = append(d.Tags, tag)
	sort.Strings(d.Tags)
}

// HasImplementation reports whether an implementation with the given id exists
func (d *AgentDefinition) HasImplementation(implID string) bool {
	for _, impl := range d.Implementations {
		if impl.ImplID == implID {
			return true
		}
	}
	return false
}

// DeploymentScope is the visibility of a deployment
type DeploymentScope string

const (
	ScopeSession DeploymentScope = "session"
	ScopeGlobal  DeploymentScope = "global"
)

// LaunchMode records who asked for the deployment
type LaunchMode string

const (
	LaunchManual       LaunchMode = "manual"
	LaunchOrchestrator LaunchMode = "orchestrator"
)

// DeploymentStatus is the coarse state of a deployed agent binding
type DeploymentStatus string

const (
	DeployIdle    DeploymentStatus = "idle"
	DeployRunning DeploymentStatus = "running"
	DeployError   DeploymentStatus = "error"
	DeployPaused  DeploymentStatus = "paused"
)

// Deployment is a running binding of an agent to a module with an instance count
type Deployment struct {
	ID               string           `json:"id"`
	AgentID          string           `json:"agentId"`
	ImplementationID string           `json:"implementationId"`
	ModuleID         string           `json:"moduleId,omitempty"`
	SessionID        string           `json:"sessionId"`
	Scope            DeploymentScope  `json:"scope"`
	InstanceCount    int              `json:"instanceCount"`
	LaunchMode       LaunchMode       `json:"launchMode"`
	Status           DeploymentStatus `json:"status"`
	Enabled          bool             `json:"enabled"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Capacity returns the number of concurrent execution slots for this deployment
func (d *Deployment) Capacity() int {
	if d.InstanceCount < 1 {
		return 1
	}
	return d.InstanceCount
}

// DeploymentID builds the deterministic deployment id for an agent/implementation pair
func DeploymentID(agentID, implID string) string {
	return "deployment-" + agentID + "-" + SanitizeID(implID)
}

// SanitizeID lowercases an identifier and replaces everything outside
// [a-z0-9-] with a dash so it is safe inside composite ids.
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// QuotaPolicy declares per-scope quota budgets for an agent
type QuotaPolicy struct {
	ProjectQuota   *int           `json:"projectQuota,omitempty" yaml:"project_quota"`
	WorkflowQuotas map[string]int `json:"workflowQuotas,omitempty" yaml:"workflow_quotas"`
}

// RuntimeProfile carries the governance knobs for one agent, distinct from its
// definition. A disabled profile blocks dispatch admission regardless of capacity.
type RuntimeProfile struct {
	AgentID      string      `json:"agentId"`
	Enabled      bool        `json:"enabled"`
	Capabilities []string    `json:"capabilities,omitempty"`
	DefaultQuota int         `json:"defaultQuota"`
	QuotaPolicy  QuotaPolicy `json:"quotaPolicy"`
}

// DefaultRuntimeProfile returns the profile used when no explicit one is set
func DefaultRuntimeProfile(agentID string) RuntimeProfile {
	return RuntimeProfile{
		AgentID:      agentID,
		Enabled:      true,
		DefaultQuota: 1,
	}
}

// QuotaSource names which scope won the quota precedence
type QuotaSource string

const (
	QuotaFromWorkflow   QuotaSource = "workflow"
	QuotaFromProject    QuotaSource = "project"
	QuotaFromDefault    QuotaSource = "default"
	QuotaFromDeployment QuotaSource = "deployment"
)

// QuotaView is the quota resolved for a single dispatch request.
// Quota is surfaced in views only; admission does not enforce it.
type QuotaView struct {
	Effective  int         `json:"effective"`
	Source     QuotaSource `json:"source"`
	WorkflowID string      `json:"workflowId,omitempty"`
}

// AssignmentPhase is the sub-status of a dispatch within the review/retry lifecycle
type AssignmentPhase string

const (
	PhaseAssigned  AssignmentPhase = "assigned"
	PhaseQueued    AssignmentPhase = "queued"
	PhaseStarted   AssignmentPhase = "started"
	PhaseReviewing AssignmentPhase = "reviewing"
	PhaseRetry     AssignmentPhase = "retry"
	PhasePassed    AssignmentPhase = "passed"
	PhaseFailed    AssignmentPhase = "failed"
	PhaseClosed    AssignmentPhase = "closed"
)

// Assignment tracks a dispatch inside a task/review workflow
type Assignment struct {
	EpicID          string          `json:"epicId,omitempty"`
	TaskID          string          `json:"taskId,omitempty"`
	BDTaskID        string          `json:"bdTaskId,omitempty"`
	AssignerAgentID string          `json:"assignerAgentId,omitempty"`
	AssigneeAgentID string          `json:"assigneeAgentId,omitempty"`
	Phase           AssignmentPhase `json:"phase,omitempty"`
	Attempt         int             `json:"attempt,omitempty"`
}

// WithPhase returns a copy of the assignment in the given phase, normalising
// the attempt counter to at least 1.
func (a Assignment) WithPhase(phase AssignmentPhase) Assignment {
	out := a
	out.Phase = phase
	if out.Attempt < 1 {
		out.Attempt = 1
	}
	return out
}

// TerminalPhaseFor derives the assignment phase at dispatch completion from the
// reply's review decision. Failures always map to PhaseFailed.
func TerminalPhaseFor(reviewDecision string) AssignmentPhase {
	switch strings.ToLower(strings.TrimSpace(reviewDecision)) {
	case "pass", "passed", "approved":
		return PhasePassed
	case "retry", "rework", "reject":
		return PhaseRetry
	case "reviewing":
		return PhaseReviewing
	default:
		return PhaseClosed
	}
}

// LastEventKind classifies the most recent runtime event seen for an agent
type LastEventKind string

const (
	LastEventDispatch LastEventKind = "dispatch"
	LastEventControl  LastEventKind = "control"
	LastEventStatus   LastEventKind = "status"
)

// LastEvent is the per-agent tail of the runtime event stream, used as the
// read model for catalog and runtime-view status derivation.
type LastEvent struct {
	Kind       LastEventKind `json:"kind"`
	Status     string        `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	SessionID  string        `json:"sessionId,omitempty"`
	WorkflowID string        `json:"workflowId,omitempty"`
	DispatchID string        `json:"dispatchId,omitempty"`
}

// AgentRuntimeStatus is the derived catalog status of an agent
type AgentRuntimeStatus string

const (
	AgentError        AgentRuntimeStatus = "error"
	AgentRunning      AgentRuntimeStatus = "running"
	AgentQueued       AgentRuntimeStatus = "queued"
	AgentPaused       AgentRuntimeStatus = "paused"
	AgentWaitingInput AgentRuntimeStatus = "waiting_input"
	AgentCompleted    AgentRuntimeStatus = "completed"
	AgentInterrupted  AgentRuntimeStatus = "interrupted"
	AgentIdle         AgentRuntimeStatus = "idle"
)

// ModuleInfo is a snapshot entry of the module registry as seen by the
// agent registry and the dispatch admission pipeline.
type ModuleInfo struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Provider string            `json:"provider,omitempty"`
	Bridge   string            `json:"bridge,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
