package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fingerworks/finger/internal/events"
	"github.com/fingerworks/finger/internal/types"
)

// Deploy upserts a deployment record. The deployment id is deterministic per
// (agent, implementation) pair, so redeploying is idempotent: CreatedAt and
// Status survive unless explicitly overridden.
func (s *Scheduler) Deploy(req types.DeployRequest) types.DeployResult {
	if strings.TrimSpace(req.AgentID) == "" {
		return types.DeployResult{Error: "agentId is required"}
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return types.DeployResult{Error: "deployment sessionId is required"}
	}

	implID := req.TargetImplementationID
	if implID == "" {
		if req.ModuleID != "" {
			implID = "native:" + req.ModuleID
		} else {
			implID = "native:" + req.AgentID
		}
	}

	now := s.now().UTC()
	id := types.DeploymentID(req.AgentID, implID)

	s.mu.Lock()
	dep, exists := s.deployments[id]
	if !exists {
		dep = &types.Deployment{
			ID:               id,
			AgentID:          req.AgentID,
			ImplementationID: implID,
			Status:           types.DeployIdle,
			CreatedAt:        now,
		}
		s.deployments[id] = dep
	}

	dep.ModuleID = req.ModuleID
	if dep.ModuleID == "" {
		dep.ModuleID = req.AgentID
	}
	dep.SessionID = req.SessionID
	dep.Scope = req.Scope
	if dep.Scope == "" {
		dep.Scope = types.ScopeSession
	}
	dep.InstanceCount = req.InstanceCount
	if dep.InstanceCount < 1 {
		dep.InstanceCount = 1
	}
	dep.LaunchMode = req.LaunchMode
	if dep.LaunchMode == "" {
		dep.LaunchMode = types.LaunchManual
	}
	if req.StatusOverride != "" {
		dep.Status = types.DeploymentStatus(req.StatusOverride)
	}
	dep.Enabled = req.Enabled == nil || *req.Enabled
	dep.UpdatedAt = now

	// Governance follows the deploy request: deploying with enabled:false is
	// the logical retirement path, the definition stays in the catalog.
	profile, ok := s.profiles[req.AgentID]
	if !ok {
		p := types.DefaultRuntimeProfile(req.AgentID)
		profile = &p
		s.profiles[req.AgentID] = profile
	}
	if req.Enabled != nil {
		profile.Enabled = *req.Enabled
	}

	copied := *dep
	s.mu.Unlock()

	status := "deployed"
	if !copied.Enabled {
		status = "retired"
	}
	s.recordStatus(req.AgentID, copied.SessionID, status,
		fmt.Sprintf("deployment %s %s (instances=%d)", copied.ID, status, copied.InstanceCount))

	return types.DeployResult{OK: true, Deployment: &copied}
}

// Deployments returns a snapshot of all deployment records, newest first
func (s *Scheduler) Deployments() []types.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Deployment, 0, len(s.deployments))
	for _, dep := range s.deployments {
		out = append(out, *dep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// latestDeployment resolves the most recent deployment for an agent
func (s *Scheduler) latestDeployment(agentID string) *types.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.Deployment
	for _, dep := range s.deployments {
		if dep.AgentID != agentID {
			continue
		}
		if best == nil || dep.UpdatedAt.After(best.UpdatedAt) {
			best = dep
		}
	}
	if best == nil {
		return nil
	}
	copied := *best
	return &copied
}

// deploymentsFor lists deployment snapshots for one agent
func (s *Scheduler) deploymentsFor(agentID string) []types.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Deployment
	for _, dep := range s.deployments {
		if dep.AgentID == agentID {
			out = append(out, *dep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetRuntimeProfile replaces the governance profile for an agent
func (s *Scheduler) SetRuntimeProfile(profile types.RuntimeProfile) {
	if profile.AgentID == "" {
		return
	}
	sort.Strings(profile.Capabilities)
	if profile.DefaultQuota < 0 {
		profile.DefaultQuota = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := profile
	s.profiles[profile.AgentID] = &copied
}

// RuntimeProfileFor returns the effective profile for an agent. Agents with
// no explicit profile are enabled with the defaults.
func (s *Scheduler) RuntimeProfileFor(agentID string) types.RuntimeProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile, ok := s.profiles[agentID]; ok {
		return *profile
	}
	return types.DefaultRuntimeProfile(agentID)
}

func (s *Scheduler) profileEnabled(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile, ok := s.profiles[agentID]; ok {
		return profile.Enabled
	}
	return true
}

// ResolveQuota picks the quota for a dispatch by precedence:
// workflow match, then project, then the profile default, falling back to the
// deployment instance count when no profile exists. Quota is reported, never
// enforced by admission.
func (s *Scheduler) ResolveQuota(agentID, workflowID string) types.QuotaView {
	s.mu.Lock()
	profile, hasProfile := s.profiles[agentID]
	var quota types.QuotaView
	if hasProfile {
		if workflowID != "" {
			if q, ok := profile.QuotaPolicy.WorkflowQuotas[workflowID]; ok {
				quota = types.QuotaView{Effective: q, Source: types.QuotaFromWorkflow, WorkflowID: workflowID}
				s.mu.Unlock()
				return quota
			}
		}
		if profile.QuotaPolicy.ProjectQuota != nil {
			quota = types.QuotaView{Effective: *profile.QuotaPolicy.ProjectQuota, Source: types.QuotaFromProject}
			s.mu.Unlock()
			return quota
		}
		quota = types.QuotaView{Effective: profile.DefaultQuota, Source: types.QuotaFromDefault}
		s.mu.Unlock()
		return quota
	}
	s.mu.Unlock()

	if dep := s.latestDeployment(agentID); dep != nil {
		return types.QuotaView{Effective: dep.Capacity(), Source: types.QuotaFromDeployment}
	}
	return types.QuotaView{Effective: 1, Source: types.QuotaFromDeployment}
}

// recordStatus emits an agent_runtime_status event and updates the last-event
// store.
func (s *Scheduler) recordStatus(agentID, sessionID, status, summary string) {
	s.lastEvents.Record(agentID, types.LastEvent{
		Kind:      types.LastEventStatus,
		Status:    status,
		Summary:   summary,
		Timestamp: s.now().UTC(),
		SessionID: sessionID,
	})
	s.bus.Publish(events.New(events.EventStatus, sessionID, agentID, events.StatusPayload{
		Status:  status,
		Summary: summary,
	}))
}
