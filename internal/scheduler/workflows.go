package scheduler

import (
	"sort"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/types"
)

// WorkflowStatus is the coarse state of a tracked workflow
type WorkflowStatus string

const (
	WorkflowRunning WorkflowStatus = "running"
	WorkflowPaused  WorkflowStatus = "paused"
)

// WorkflowTask references an agent doing work inside a workflow. In-progress
// tasks keep their agent in the running status bucket even between dispatches.
type WorkflowTask struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// Workflow is the scheduler's view of one tracked workflow
type Workflow struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	Status    WorkflowStatus `json:"status"`
	Hard      bool           `json:"hard,omitempty"`
	Tasks     []WorkflowTask `json:"tasks,omitempty"`
}

// RegisterWorkflow starts tracking a workflow; existing ids are untouched
func (s *Scheduler) RegisterWorkflow(workflowID, sessionID string) {
	if workflowID == "" {
		return
	}

	s.mu.Lock()
	if _, ok := s.workflows[workflowID]; !ok {
		s.workflows[workflowID] = &Workflow{ID: workflowID, SessionID: sessionID, Status: WorkflowRunning}
	}
	s.mu.Unlock()
}

// UpsertWorkflowTask records or updates a task within a workflow, creating
// the workflow when needed.
func (s *Scheduler) UpsertWorkflowTask(workflowID string, task WorkflowTask) {
	if workflowID == "" || task.ID == "" {
		return
	}

	s.mu.Lock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		wf = &Workflow{ID: workflowID, Status: WorkflowRunning}
		s.workflows[workflowID] = wf
	}
	replaced := false
	for i := range wf.Tasks {
		if wf.Tasks[i].ID == task.ID {
			wf.Tasks[i] = task
			replaced = true
			break
		}
	}
	if !replaced {
		wf.Tasks = append(wf.Tasks, task)
	}
	sessionID := wf.SessionID
	s.mu.Unlock()

	s.bus.Publish(events.New(events.EventWorkflowUpdate, sessionID, task.AgentID, map[string]any{
		"workflowId": workflowID,
		"taskId":     task.ID,
		"status":     task.Status,
	}))
}

// PauseWorkflow marks a workflow paused. Returns false when the workflow is
// unknown.
func (s *Scheduler) PauseWorkflow(workflowID string, hard bool) bool {
	s.mu.Lock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	wf.Status = WorkflowPaused
	wf.Hard = hard
	sessionID := wf.SessionID
	s.mu.Unlock()

	s.bus.Publish(events.New(events.EventWorkflowUpdate, sessionID, "", map[string]any{
		"workflowId": workflowID,
		"status":     string(WorkflowPaused),
		"hard":       hard,
	}))
	return true
}

// ResumeWorkflow clears the paused state. Returns false when unknown.
func (s *Scheduler) ResumeWorkflow(workflowID string) bool {
	s.mu.Lock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	wf.Status = WorkflowRunning
	wf.Hard = false
	sessionID := wf.SessionID
	s.mu.Unlock()

	s.bus.Publish(events.New(events.EventWorkflowUpdate, sessionID, "", map[string]any{
		"workflowId": workflowID,
		"status":     string(WorkflowRunning),
	}))
	return true
}

// PauseSession marks every dispatch target in a session as paused
func (s *Scheduler) PauseSession(sessionID string) {
	s.mu.Lock()
	s.pausedSessions[sessionID] = true
	for _, dep := range s.deployments {
		if dep.SessionID == sessionID && dep.Status != types.DeployError {
			dep.Status = types.DeployPaused
		}
	}
	s.mu.Unlock()
}

// ResumeSession clears a session pause
func (s *Scheduler) ResumeSession(sessionID string) {
	s.mu.Lock()
	delete(s.pausedSessions, sessionID)
	for _, dep := range s.deployments {
		if dep.SessionID == sessionID && dep.Status == types.DeployPaused {
			dep.Status = types.DeployIdle
		}
	}
	s.mu.Unlock()
}

// AgentsInSession lists, sorted and without duplicates, every agent that has
// at least one deployment targeting the session
func (s *Scheduler) AgentsInSession(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, dep := range s.deployments {
		if dep.SessionID == sessionID && !seen[dep.AgentID] {
			seen[dep.AgentID] = true
			out = append(out, dep.AgentID)
		}
	}
	sort.Strings(out)
	return out
}

// SessionPaused reports whether a session is paused
func (s *Scheduler) SessionPaused(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedSessions[sessionID]
}

// Workflows returns a snapshot of tracked workflows sorted by id
func (s *Scheduler) Workflows() []Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		copied := *wf
		copied.Tasks = append([]WorkflowTask{}, wf.Tasks...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// agentInProgressInWorkflow reports whether any tracked workflow has an
// in-progress task assigned to the agent. Callers must not hold s.mu.
func (s *Scheduler) agentInProgressInWorkflow(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, wf := range s.workflows {
		for _, task := range wf.Tasks {
			if task.AgentID != agentID {
				continue
			}
			switch task.Status {
			case "in-progress", "in_progress", "running", "started":
				return true
			}
		}
	}
	return false
}
