package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/hub"
	"github.com/fingerworks/finger/internal/orchestration"
	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
	"github.com/gorilla/mux"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.wsHub.ClientCount(),
		"modules": len(s.moduleHub.Modules()),
	})
}

// messageRequest is the generic entrypoint body: target may be an agent id
// or a module id.
type messageRequest struct {
	Target   string         `json:"target"`
	Message  map[string]any `json:"message"`
	Blocking bool           `json:"blocking,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Target == "" {
		req.Target = types.EnvString(types.EnvPrimaryOrchestrator, "")
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	// A deployed agent target goes through the scheduler so capacity and
	// governance apply; anything else is a raw module send.
	if s.hasDeployment(req.Target) {
		primary := types.EnvString(types.EnvPrimaryOrchestrator, "")
		if !types.EnvBool(types.EnvAllowDirectAgentRoute, true) && req.Target != primary {
			writeError(w, http.StatusBadRequest, "direct agent routing is disabled")
			return
		}
		result := s.sched.Dispatch(r.Context(), types.DispatchRequest{
			TargetAgentID: req.Target,
			Task:          anyTask(req.Message),
			SessionID:     s.sessions.Current(),
			Blocking:      req.Blocking,
		})
		if !result.OK && validationFailure(result.Error) {
			writeError(w, http.StatusBadRequest, result.Error)
			return
		}
		if !result.OK {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": result.Error})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
		return
	}

	if !req.Blocking {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := s.moduleHub.SendToModule(ctx, req.Target, req.Message); err != nil {
				s.bus.Publish(events.New(events.EventStatus, s.sessions.Current(), "", events.StatusPayload{
					Status:  "error",
					Summary: err.Error(),
				}))
			}
		}()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "accepted": true})
		return
	}

	result, err := s.moduleHub.BlockingSend(r.Context(), hub.PolicyFromEnv(), req.Target, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if hub.IsRetryable(err) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) hasDeployment(agentID string) bool {
	for _, dep := range s.sched.Deployments() {
		if dep.AgentID == agentID {
			return true
		}
	}
	return false
}

func anyTask(message map[string]any) any {
	if message == nil {
		return map[string]any{}
	}
	return message
}

func (s *Server) handleRuntimeView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.View())
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req types.DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.sched.Dispatch(r.Context(), req)
	if !result.OK && validationFailure(result.Error) {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}

	if req.SessionID != "" && result.Status != types.DispatchQueued {
		if err := s.sessions.AppendDiagnostic(req.SessionID, req.TargetAgentID, map[string]any{
			"dispatchId": result.DispatchID,
			"status":     string(result.Status),
			"error":      result.Error,
		}); err != nil {
			log.Printf("[SERVER] Failed to append dispatch diagnostic: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req types.ControlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.plane.Control(r.Context(), req)
	if !result.OK && validationFailure(result.Error) {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req types.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Resolve the target session from the agent's role when the caller did
	// not pin one: orchestrators land on the root, everyone else on a child.
	if req.SessionID == "" {
		role := types.RoleExecutor
		if def, ok := s.definitions()[req.AgentID]; ok {
			role = def.Role
		}
		req.SessionID = s.sessions.SessionForRole(role, req.AgentID).ID
	}

	result := s.sched.Deploy(req)
	view := s.sched.View()
	if !result.OK {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":          false,
			"error":            result.Error,
			"startupTargets":   view.StartupTargets,
			"startupTemplates": view.StartupTemplates,
		})
		return
	}

	s.sched.PublishCatalog(result.Deployment.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"deployment":       result.Deployment,
		"startupTargets":   view.StartupTargets,
		"startupTemplates": view.StartupTemplates,
	})
}

func (s *Server) definitions() map[string]types.AgentDefinition {
	view := s.sched.View()
	defs := make(map[string]types.AgentDefinition, len(view.Agents))
	for _, agent := range view.Agents {
		defs[agent.ID] = types.AgentDefinition{
			ID:              agent.ID,
			Name:            agent.Name,
			Role:            agent.Role,
			Source:          agent.Source,
			Implementations: agent.Implementations,
			Tags:            agent.Tags,
		}
	}
	return defs
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	layer := scheduler.CatalogLayer(r.URL.Query().Get("layer"))
	if layer == "" {
		layer = scheduler.LayerSummary
	}
	writeJSON(w, http.StatusOK, s.sched.Catalog(layer))
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.gate.Tools()})
}

func (s *Server) handleGetToolPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, s.gate.ResolveToolAccess(agentID))
}

type toolPolicyRequest struct {
	Whitelist *[]string `json:"whitelist,omitempty"`
	Blacklist *[]string `json:"blacklist,omitempty"`
}

func (s *Server) handleSetToolPolicy(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	var req toolPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Whitelist != nil {
		s.gate.SetAgentToolWhitelist(agentID, *req.Whitelist)
	}
	if req.Blacklist != nil {
		s.gate.SetAgentToolBlacklist(agentID, *req.Blacklist)
	}
	writeJSON(w, http.StatusOK, s.gate.ResolveToolAccess(agentID))
}

type workflowControlRequest struct {
	WorkflowID string `json:"workflowId,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Hard       bool   `json:"hard,omitempty"`
}

func (s *Server) handleWorkflowPause(w http.ResponseWriter, r *http.Request) {
	s.workflowControl(w, r, types.ControlPause)
}

func (s *Server) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	s.workflowControl(w, r, types.ControlResume)
}

func (s *Server) workflowControl(w http.ResponseWriter, r *http.Request, action types.ControlAction) {
	var req workflowControlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.plane.Control(r.Context(), types.ControlRequest{
		Action:     action,
		WorkflowID: req.WorkflowID,
		SessionID:  req.SessionID,
		Hard:       req.Hard,
	})
	if !result.OK {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type workflowInputRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

func (s *Server) handleWorkflowInput(w http.ResponseWriter, r *http.Request) {
	var req workflowInputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = s.sessions.Current()
	}

	if err := s.sessions.AppendMessage(req.SessionID, workspace.Message{
		Role:    "user",
		Content: req.Text,
	}); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.bus.Publish(events.New(events.EventUserMessage, req.SessionID, "", map[string]any{
		"text": req.Text,
	}))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusBadRequest, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	messages, ok := s.sessions.Messages(sessionID)
	if !ok {
		writeError(w, http.StatusBadRequest, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleOrchestrationConfig(w http.ResponseWriter, r *http.Request) {
	var cfg orchestration.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.applier.Apply(&cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.cfg.OrchPath != "" {
		if err := cfg.Save(s.cfg.OrchPath); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activeProfileId": cfg.ActiveProfileID})
}

type switchRequest struct {
	ProfileID string `json:"profileId"`
}

func (s *Server) handleOrchestrationSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.OrchPath == "" {
		writeError(w, http.StatusBadRequest, "no orchestration config loaded")
		return
	}

	cfg, err := orchestration.Load(s.cfg.OrchPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.applier.Switch(cfg, req.ProfileID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Save(s.cfg.OrchPath); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activeProfileId": req.ProfileID})
}

func (s *Server) handleGetInputLock(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	writeJSON(w, http.StatusOK, s.locks.Get(sessionID))
}
