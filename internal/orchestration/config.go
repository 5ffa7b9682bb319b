// Package orchestration loads profile configs and reconciles the deployed
// agent set against the active profile.
package orchestration

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fingerworks/finger/internal/types"
)

// ConfigVersion is embedded in persisted orchestration.json files
const ConfigVersion = 1

// ProfileAgent is one agent entry of a profile
type ProfileAgent struct {
	AgentID                string           `json:"agentId"`
	Enabled                bool             `json:"enabled"`
	InstanceCount          int              `json:"instanceCount,omitempty"`
	LaunchMode             types.LaunchMode `json:"launchMode,omitempty"`
	TargetImplementationID string           `json:"targetImplementationId,omitempty"`
	ModuleID               string           `json:"moduleId,omitempty"`
}

// Profile is one named deployment profile
type Profile struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	ReviewPolicy string         `json:"reviewPolicy,omitempty"`
	Agents       []ProfileAgent `json:"agents"`
}

// Config is the whole orchestration.json document
type Config struct {
	Version         int       `json:"version"`
	ActiveProfileID string    `json:"activeProfileId"`
	Profiles        []Profile `json:"profiles"`
}

// Load reads and validates an orchestration config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read orchestration config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid orchestration config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config as whole-file JSON with the format version embedded
func (c *Config) Save(path string) error {
	c.Version = ConfigVersion
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal orchestration config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write orchestration config: %w", err)
	}
	return nil
}

// Validate checks structural invariants of the config
func (c *Config) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("invalid orchestration config: no profiles")
	}

	seen := make(map[string]bool, len(c.Profiles))
	for i, profile := range c.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("invalid orchestration config: profile %d has no id", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("invalid orchestration config: duplicate profile id %q", profile.ID)
		}
		seen[profile.ID] = true

		for j, agent := range profile.Agents {
			if agent.AgentID == "" {
				return fmt.Errorf("invalid orchestration config: profile %q agent %d has no agentId", profile.ID, j)
			}
			if agent.InstanceCount < 0 {
				return fmt.Errorf("invalid orchestration config: profile %q agent %q has negative instanceCount", profile.ID, agent.AgentID)
			}
		}
	}

	if c.ActiveProfileID == "" {
		return fmt.Errorf("invalid orchestration config: activeProfileId is required")
	}
	if !seen[c.ActiveProfileID] {
		return fmt.Errorf("invalid orchestration config: active profile %q not found", c.ActiveProfileID)
	}
	return nil
}

// ActiveProfile returns the profile selected by ActiveProfileID
func (c *Config) ActiveProfile() (*Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].ID == c.ActiveProfileID {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}
