package types

// Dispatch queue bounds. Wait times below the minimum are clamped up; zero or
// negative values fall back to the default.
const (
	DefaultQueueWaitMs = 300000
	MinQueueWaitMs     = 1000
)

// DispatchStatus is the terminal (or queued) status of a dispatch request
type DispatchStatus string

const (
	DispatchQueued    DispatchStatus = "queued"
	DispatchCompleted DispatchStatus = "completed"
	DispatchFailed    DispatchStatus = "failed"
)

// DispatchRequest asks the scheduler to run a task on a target agent.
// Task is opaque to the core: a string is wrapped into a text payload, an
// object is cloned and annotated with orchestration metadata before forwarding.
type DispatchRequest struct {
	SourceAgentID  string         `json:"sourceAgentId"`
	TargetAgentID  string         `json:"targetAgentId"`
	Task           any            `json:"task"`
	SessionID      string         `json:"sessionId,omitempty"`
	WorkflowID     string         `json:"workflowId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Blocking       bool           `json:"blocking,omitempty"`
	QueueOnBusy    *bool          `json:"queueOnBusy,omitempty"`
	MaxQueueWaitMs int            `json:"maxQueueWaitMs,omitempty"`
	Assignment     *Assignment    `json:"assignment,omitempty"`
}

// QueueOnBusyOrDefault reports whether a busy target should queue; defaults
// to true when the caller left it unset
func (r *DispatchRequest) QueueOnBusyOrDefault() bool {
	if r.QueueOnBusy == nil {
		return true
	}
	return *r.QueueOnBusy
}

// EffectiveQueueWaitMs clamps the requested queue wait into valid bounds
func (r *DispatchRequest) EffectiveQueueWaitMs() int {
	if r.MaxQueueWaitMs <= 0 {
		return DefaultQueueWaitMs
	}
	if r.MaxQueueWaitMs < MinQueueWaitMs {
		return MinQueueWaitMs
	}
	return r.MaxQueueWaitMs
}

// DispatchResult is the discriminated outcome of a dispatch request
type DispatchResult struct {
	OK             bool           `json:"ok"`
	DispatchID     string         `json:"dispatchId"`
	Status         DispatchStatus `json:"status"`
	Result         any            `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	TargetModuleID string         `json:"targetModuleId,omitempty"`
	QueuePosition  int            `json:"queuePosition,omitempty"`
	Quota          *QuotaView     `json:"quota,omitempty"`
}

// FailedDispatch builds a failed result for the given dispatch id
func FailedDispatch(dispatchID, errMsg string) DispatchResult {
	return DispatchResult{
		OK:         false,
		DispatchID: dispatchID,
		Status:     DispatchFailed,
		Error:      errMsg,
	}
}

// ControlAction is a control-plane verb
type ControlAction string

const (
	ControlStatus    ControlAction = "status"
	ControlPause     ControlAction = "pause"
	ControlResume    ControlAction = "resume"
	ControlInterrupt ControlAction = "interrupt"
	ControlCancel    ControlAction = "cancel"
)

// ControlRequest addresses a control action at a session, workflow, or the runtime
type ControlRequest struct {
	Action        ControlAction `json:"action"`
	TargetAgentID string        `json:"targetAgentId,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	WorkflowID    string        `json:"workflowId,omitempty"`
	ProviderID    string        `json:"providerId,omitempty"`
	Hard          bool          `json:"hard,omitempty"`
}

// ControlResultStatus is the outcome class of a control request
type ControlResultStatus string

const (
	ControlAccepted  ControlResultStatus = "accepted"
	ControlCompleted ControlResultStatus = "completed"
	ControlFailed    ControlResultStatus = "failed"
)

// StatusInterrupted is the status recorded in the per-agent last-event store
// when an interrupt or cancel control action succeeds.
const StatusInterrupted = "interrupted"

// ControlResult is the discriminated outcome of a control request
type ControlResult struct {
	OK            bool                `json:"ok"`
	Action        ControlAction       `json:"action"`
	Status        ControlResultStatus `json:"status"`
	TargetAgentID string              `json:"targetAgentId,omitempty"`
	SessionID     string              `json:"sessionId,omitempty"`
	WorkflowID    string              `json:"workflowId,omitempty"`
	Result        any                 `json:"result,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// InterruptResult is returned by the runner for interrupt/cancel actions
type InterruptResult struct {
	InterruptedCount int      `json:"interruptedCount"`
	Sessions         []string `json:"sessions"`
}

// DeployRequest asks the scheduler to bind an agent to a module
type DeployRequest struct {
	AgentID                string          `json:"agentId"`
	TargetImplementationID string          `json:"targetImplementationId,omitempty"`
	ModuleID               string          `json:"moduleId,omitempty"`
	SessionID              string          `json:"sessionId,omitempty"`
	Scope                  DeploymentScope `json:"scope,omitempty"`
	InstanceCount          int             `json:"instanceCount,omitempty"`
	LaunchMode             LaunchMode      `json:"launchMode,omitempty"`
	Enabled                *bool           `json:"enabled,omitempty"`
	StatusOverride         string          `json:"statusOverride,omitempty"`
}

// DeployResult reports the outcome of a deploy request
type DeployResult struct {
	OK         bool        `json:"ok"`
	Deployment *Deployment `json:"deployment,omitempty"`
	Error      string      `json:"error,omitempty"`
}
