package types

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names recognised by the broker
const (
	EnvPort                  = "PORT"
	EnvWSPort                = "WS_PORT"
	EnvBlockingTimeoutMs     = "FINGER_BLOCKING_MESSAGE_TIMEOUT_MS"
	EnvBlockingMaxRetries    = "FINGER_BLOCKING_MESSAGE_MAX_RETRIES"
	EnvBlockingRetryBaseMs   = "FINGER_BLOCKING_MESSAGE_RETRY_BASE_MS"
	EnvAskToolTimeoutMs      = "FINGER_ASK_TOOL_TIMEOUT_MS"
	EnvHTTPBodyLimit         = "FINGER_HTTP_BODY_LIMIT"
	EnvPrimaryOrchestrator   = "FINGER_PRIMARY_ORCHESTRATOR_TARGET"
	EnvAllowDirectAgentRoute = "FINGER_ALLOW_DIRECT_AGENT_ROUTE"
	EnvFullMockMode          = "FINGER_FULL_MOCK_MODE"
	EnvMockRolePrefix        = "FINGER_MOCK_"
)

// Default ports and limits for the control surface
const (
	DefaultHTTPPort           = 9999
	DefaultWSPort             = 9998
	DefaultHTTPBodyLimitBytes = 20 << 20
)

// AgentToolsConfig is the tools section of an agent JSON config file
type AgentToolsConfig struct {
	Whitelist             []string `json:"whitelist,omitempty"`
	Blacklist             []string `json:"blacklist,omitempty"`
	AuthorizationRequired bool     `json:"authorizationRequired,omitempty"`
}

// AgentImplConfig is an explicit implementation entry in an agent config file
type AgentImplConfig struct {
	ID       string `json:"id"`
	Kind     string `json:"kind,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// AgentFileConfig is one loaded agent JSON config. These feed the registry as
// the agent-json source of truth.
type AgentFileConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Role            AgentRole         `json:"role,omitempty"`
	Provider        string            `json:"provider,omitempty"`
	Implementations []AgentImplConfig `json:"implementations,omitempty"`
	Tools           *AgentToolsConfig `json:"tools,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
}

// StartupTemplate is a baseline agent definition guaranteed to exist for
// canonical roles regardless of user configuration.
type StartupTemplate struct {
	AgentID  string    `yaml:"agent_id" json:"agentId"`
	Name     string    `yaml:"name" json:"name"`
	Role     AgentRole `yaml:"role" json:"role"`
	ModuleID string    `yaml:"module_id" json:"moduleId"`
}

// BrokerConfig loaded from broker.yaml
type BrokerConfig struct {
	HTTPPort  int               `yaml:"http_port"`
	WSPort    int               `yaml:"ws_port"`
	Home      string            `yaml:"home"`
	Templates []StartupTemplate `yaml:"startup_templates"`
	MockMode  bool              `yaml:"mock_mode"`
	LockTTL   int               `yaml:"input_lock_ttl_seconds"`
}

// DefaultStartupTemplates returns the hard-coded baseline set. The canonical
// ids are always present in the catalog; availability is derived from whether
// the matching module is registered.
func DefaultStartupTemplates() []StartupTemplate {
	return []StartupTemplate{
		{AgentID: "orchestrator", Name: "Orchestrator", Role: RoleOrchestrator, ModuleID: "orchestrator"},
		{AgentID: "researcher", Name: "Researcher", Role: RoleSearcher, ModuleID: "researcher"},
		{AgentID: "executor", Name: "Executor", Role: RoleExecutor, ModuleID: "executor"},
		{AgentID: "coder", Name: "Coder", Role: RoleExecutor, ModuleID: "coder"},
		{AgentID: "reviewer", Name: "Reviewer", Role: RoleReviewer, ModuleID: "reviewer"},
	}
}

// EnvInt reads an integer environment variable with a fallback
func EnvInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// EnvBool reads a boolean environment variable with a fallback.
// Accepts 1/true/yes/on in any case.
func EnvBool(name string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

// EnvString reads a string environment variable with a fallback
func EnvString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// EnvBodyLimit parses FINGER_HTTP_BODY_LIMIT values such as "20mb", "512kb"
// or a plain byte count.
func EnvBodyLimit(name string, fallback int64) int64 {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return fallback
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(v, "mb"):
		mult = 1 << 20
		v = strings.TrimSuffix(v, "mb")
	case strings.HasSuffix(v, "kb"):
		mult = 1 << 10
		v = strings.TrimSuffix(v, "kb")
	case strings.HasSuffix(v, "b"):
		v = strings.TrimSuffix(v, "b")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n * mult
}

// MockRoleEnabled reports whether mocking is requested for a specific role,
// either via the per-role toggle or the global mock switch.
func MockRoleEnabled(role AgentRole) bool {
	if EnvBool(EnvFullMockMode, false) {
		return true
	}
	return EnvBool(EnvMockRolePrefix+strings.ToUpper(string(role)), false)
}
