// Package control implements the pause/resume/interrupt/cancel/status
// surface over the scheduler's state and the chat runner.
package control

import (
	"context"
	"fmt"
	"log"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/runner"
	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
)

// Control failure messages, surfaced verbatim
const (
	ErrPauseTarget       = "pause requires sessionId or workflowId"
	ErrResumeTarget      = "resume requires sessionId or workflowId"
	ErrInterruptTarget   = "interrupt requires sessionId"
	ErrCancelTarget      = "cancel requires sessionId"
	ErrWorkflowNotFound  = "workflow not found"
	ErrSessionNotFound   = "session not found"
	ErrUnsupportedAction = "unsupported control action"
)

// Plane is the control plane over the agent runtime
type Plane struct {
	sched    *scheduler.Scheduler
	runner   runner.Runner
	sessions *workspace.Manager
	bus      *events.Bus
	samples  scheduler.ErrorSink
}

// New creates a control plane
func New(sched *scheduler.Scheduler, run runner.Runner, sessions *workspace.Manager, bus *events.Bus, samples scheduler.ErrorSink) *Plane {
	return &Plane{sched: sched, runner: run, sessions: sessions, bus: bus, samples: samples}
}

// Control executes a control action. Every call emits a control event; the
// status action additionally emits a status event. The core never rethrows:
// panics from state reads become failed results.
func (p *Plane) Control(ctx context.Context, req types.ControlRequest) (result types.ControlResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("control %s panic: %v", req.Action, r)
			log.Printf("[CONTROL] ERROR: %v", err)
			if p.samples != nil {
				p.samples.Write("control", err, map[string]any{"action": string(req.Action)})
			}
			result = p.failed(req, err.Error())
			if req.Action == types.ControlStatus {
				p.bus.Publish(events.New(events.EventStatus, req.SessionID, req.TargetAgentID, events.StatusPayload{
					Status:  "error",
					Summary: err.Error(),
				}))
			}
		}
		p.emitControl(req, result)
	}()

	switch req.Action {
	case types.ControlStatus:
		return p.status(req)
	case types.ControlPause:
		return p.pause(req)
	case types.ControlResume:
		return p.resume(req)
	case types.ControlInterrupt, types.ControlCancel:
		return p.interrupt(req)
	default:
		return p.failed(req, ErrUnsupportedAction)
	}
}

// status snapshots the catalog, runtime view and runner session states. It
// never fails on state-read errors; exceptions surface as a failed result
// plus an error status event.
func (p *Plane) status(req types.ControlRequest) types.ControlResult {
	snapshot := map[string]any{
		"view":      p.sched.View(),
		"catalog":   p.sched.Catalog(scheduler.LayerSummary),
		"workflows": p.sched.Workflows(),
	}
	if stater, ok := p.runner.(runner.SessionStater); ok {
		snapshot["runnerSessions"] = stater.SessionStates()
	}

	p.bus.Publish(events.New(events.EventStatus, req.SessionID, req.TargetAgentID, events.StatusPayload{
		Status: "ok",
		Detail: snapshot,
	}))

	return types.ControlResult{
		OK:            true,
		Action:        req.Action,
		Status:        types.ControlCompleted,
		TargetAgentID: req.TargetAgentID,
		SessionID:     req.SessionID,
		Result:        snapshot,
	}
}

func (p *Plane) pause(req types.ControlRequest) types.ControlResult {
	switch {
	case req.WorkflowID != "":
		if !p.sched.PauseWorkflow(req.WorkflowID, req.Hard) {
			return p.failed(req, ErrWorkflowNotFound)
		}
	case req.SessionID != "":
		if _, ok := p.sessions.Get(req.SessionID); !ok {
			return p.failed(req, ErrSessionNotFound)
		}
		p.sched.PauseSession(req.SessionID)
	default:
		return p.failed(req, ErrPauseTarget)
	}
	return p.completed(req, nil)
}

func (p *Plane) resume(req types.ControlRequest) types.ControlResult {
	switch {
	case req.WorkflowID != "":
		if !p.sched.ResumeWorkflow(req.WorkflowID) {
			return p.failed(req, ErrWorkflowNotFound)
		}
	case req.SessionID != "":
		if _, ok := p.sessions.Get(req.SessionID); !ok {
			return p.failed(req, ErrSessionNotFound)
		}
		p.sched.ResumeSession(req.SessionID)
	default:
		return p.failed(req, ErrResumeTarget)
	}
	return p.completed(req, nil)
}

func (p *Plane) interrupt(req types.ControlRequest) types.ControlResult {
	if req.SessionID == "" {
		if req.Action == types.ControlCancel {
			return p.failed(req, ErrCancelTarget)
		}
		return p.failed(req, ErrInterruptTarget)
	}

	result, err := p.runner.InterruptSession(req.SessionID, req.ProviderID)
	if err != nil {
		return p.failed(req, err.Error())
	}

	// Interrupt and cancel normalise to "interrupted" in the per-agent
	// last-event store for every agent bound to the session.
	agents := p.sched.AgentsInSession(req.SessionID)
	if req.TargetAgentID != "" {
		agents = append(agents, req.TargetAgentID)
	}
	for _, agentID := range agents {
		p.sched.LastEvents().Record(agentID, types.LastEvent{
			Kind:      types.LastEventControl,
			Status:    types.StatusInterrupted,
			Summary:   fmt.Sprintf("%s via control plane", req.Action),
			SessionID: req.SessionID,
		})
	}

	return p.completed(req, result)
}

func (p *Plane) completed(req types.ControlRequest, result any) types.ControlResult {
	return types.ControlResult{
		OK:            true,
		Action:        req.Action,
		Status:        types.ControlCompleted,
		TargetAgentID: req.TargetAgentID,
		SessionID:     req.SessionID,
		WorkflowID:    req.WorkflowID,
		Result:        result,
	}
}

func (p *Plane) failed(req types.ControlRequest, errMsg string) types.ControlResult {
	return types.ControlResult{
		OK:            false,
		Action:        req.Action,
		Status:        types.ControlFailed,
		TargetAgentID: req.TargetAgentID,
		SessionID:     req.SessionID,
		WorkflowID:    req.WorkflowID,
		Error:         errMsg,
	}
}

// emitControl publishes the agent_runtime_control event for a finished action
func (p *Plane) emitControl(req types.ControlRequest, result types.ControlResult) {
	p.bus.Publish(events.New(events.EventControl, req.SessionID, req.TargetAgentID, events.ControlPayload{
		Action:     req.Action,
		Status:     result.Status,
		SessionID:  req.SessionID,
		WorkflowID: req.WorkflowID,
		Result:     result.Result,
		Error:      result.Error,
	}))

	if req.TargetAgentID == "" {
		return
	}
	status := string(result.Status)
	if result.OK && (req.Action == types.ControlInterrupt || req.Action == types.ControlCancel) {
		status = types.StatusInterrupted
	}
	p.sched.LastEvents().Record(req.TargetAgentID, types.LastEvent{
		Kind:       types.LastEventControl,
		Status:     status,
		Summary:    fmt.Sprintf("control %s", req.Action),
		SessionID:  req.SessionID,
		WorkflowID: req.WorkflowID,
	})
}
