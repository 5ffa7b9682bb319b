package orchestration

import (
	"fmt"
	"log"
	"sync"

	"github.com/fingerworks/finger/internal/scheduler"
	"github.com/fingerworks/finger/internal/types"
	"github.com/fingerworks/finger/internal/workspace"
)

// Applier reconciles the deployed agent set against the active profile.
// Reconciliation is idempotent: applying the same config twice yields the
// same runtime view.
type Applier struct {
	sched    *scheduler.Scheduler
	sessions *workspace.Manager
	defs     scheduler.DefinitionsFunc

	mu           sync.RWMutex
	reviewPolicy string
}

// NewApplier creates a config applier
func NewApplier(sched *scheduler.Scheduler, sessions *workspace.Manager, defs scheduler.DefinitionsFunc) *Applier {
	return &Applier{sched: sched, sessions: sessions, defs: defs}
}

// ReviewPolicy returns the policy of the last applied profile
func (a *Applier) ReviewPolicy() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reviewPolicy
}

// Apply reconciles against the config's active profile:
// retire started agents absent from the profile, deploy every enabled entry
// with the session its role dictates, then make the root session current.
// The first deploy failure aborts with an aggregate error; partial progress
// stays observable through the emitted events and is not rolled back.
func (a *Applier) Apply(cfg *Config) error {
	profile, ok := cfg.ActiveProfile()
	if !ok {
		return fmt.Errorf("invalid orchestration config: active profile %q not found", cfg.ActiveProfileID)
	}

	a.mu.Lock()
	a.reviewPolicy = profile.ReviewPolicy
	a.mu.Unlock()

	wanted := make(map[string]ProfileAgent, len(profile.Agents))
	for _, agent := range profile.Agents {
		wanted[agent.AgentID] = agent
	}

	// Logical retirement: started agents the profile no longer lists keep
	// their definition but get a disabled deployment.
	disabled := false
	for _, dep := range a.sched.Deployments() {
		if !dep.Enabled {
			continue
		}
		if entry, ok := wanted[dep.AgentID]; ok && entry.Enabled {
			continue
		}
		res := a.sched.Deploy(types.DeployRequest{
			AgentID:                dep.AgentID,
			TargetImplementationID: dep.ImplementationID,
			ModuleID:               dep.ModuleID,
			SessionID:              dep.SessionID,
			Scope:                  dep.Scope,
			InstanceCount:          dep.InstanceCount,
			LaunchMode:             types.LaunchOrchestrator,
			Enabled:                &disabled,
		})
		if !res.OK {
			return fmt.Errorf("apply profile %s: retire %s: %s", profile.ID, dep.AgentID, res.Error)
		}
		log.Printf("[ORCH] Retired agent %s (not in profile %s)", dep.AgentID, profile.ID)
	}

	defs := map[string]types.AgentDefinition{}
	if a.defs != nil {
		defs = a.defs()
	}

	enabled := true
	for _, agent := range profile.Agents {
		if !agent.Enabled {
			continue
		}

		role := types.RoleExecutor
		if def, ok := defs[agent.AgentID]; ok {
			role = def.Role
		}
		session := a.sessions.SessionForRole(role, agent.AgentID)

		res := a.sched.Deploy(types.DeployRequest{
			AgentID:                agent.AgentID,
			TargetImplementationID: agent.TargetImplementationID,
			ModuleID:               agent.ModuleID,
			SessionID:              session.ID,
			InstanceCount:          agent.InstanceCount,
			LaunchMode:             launchModeOrDefault(agent.LaunchMode),
			Enabled:                &enabled,
		})
		if !res.OK {
			return fmt.Errorf("apply profile %s: deploy %s: %s", profile.ID, agent.AgentID, res.Error)
		}
	}

	root := a.sessions.EnsureOrchestratorRootSession()
	a.sessions.SetCurrent(root.ID)
	a.sched.PublishCatalog(root.ID)

	log.Printf("[ORCH] Applied profile %s (%d agents)", profile.ID, len(profile.Agents))
	return nil
}

// Switch activates a different profile and applies it
func (a *Applier) Switch(cfg *Config, profileID string) error {
	found := false
	for _, profile := range cfg.Profiles {
		if profile.ID == profileID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid orchestration config: active profile %q not found", profileID)
	}
	cfg.ActiveProfileID = profileID
	return a.Apply(cfg)
}

func launchModeOrDefault(mode types.LaunchMode) types.LaunchMode {
	if mode == "" {
		return types.LaunchOrchestrator
	}
	return mode
}
