package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Agent names that accept per-agent overrides.
const (
	AgentBusinessReport = "business_report_agent"
	AgentEmail          = "email_agent"
	AgentPresentation   = "presentation_agent"
	AgentWireframe      = "wireframe_agent"
	AgentCSVAnalyzer    = "csv_analyzer_agent"
)

// KnownAgents lists every agent the studio runs.
var KnownAgents = []string{
	AgentBusinessReport,
	AgentEmail,
	AgentPresentation,
	AgentWireframe,
	AgentCSVAnalyzer,
}

// Config represents the studio configuration
type Config struct {
	// AI providers tried in priority order
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Per-agent overrides keyed by agent name
	Agents map[string]AgentOverride `json:"agents" mapstructure:"agents"`

	Runner RunnerConfig `json:"runner" mapstructure:"runner"`

	Images ImagesConfig `json:"images" mapstructure:"images"`

	Prompts PromptsConfig `json:"prompts" mapstructure:"prompts"`

	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Shell commands run when a job becomes ready or fails
	Hooks []HookConfig `json:"hooks,omitempty" mapstructure:"hooks"`

	// Root for the job database, project files and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
	// Model replaces the agent's model when this profile serves the call.
	Model string `json:"model,omitempty" mapstructure:"model"`
}

// AgentOverride replaces prompt-file defaults for one agent. Zero values keep the default.
type AgentOverride struct {
	Model         string   `json:"model,omitempty" mapstructure:"model"`
	MaxTokens     int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature   *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxIterations int      `json:"max_iterations,omitempty" mapstructure:"max_iterations"`
}

// RunnerConfig tunes model call retries and tool timeouts.
type RunnerConfig struct {
	MaxRetries         int `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs   int `json:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	ToolTimeoutSeconds int `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// ImagesConfig configures the image generator used by the email agent.
type ImagesConfig struct {
	Model string `json:"model" mapstructure:"model"`
	// APIKey defaults to the first gemini profile's key.
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// PromptsConfig points at an optional directory of prompt overrides.
type PromptsConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Audit     bool   `json:"audit" mapstructure:"audit"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// HookConfig binds a shell command to a job event (job:ready or job:error).
type HookConfig struct {
	ID             string `json:"id,omitempty" mapstructure:"id"`
	Event          string `json:"event" mapstructure:"event"`
	Script         string `json:"script" mapstructure:"script"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Agents: map[string]AgentOverride{},
		Runner: RunnerConfig{
			MaxRetries:         3,
			RetryBaseDelayMs:   1000,
			ToolTimeoutSeconds: 120,
		},
		Images: ImagesConfig{
			Model: "imagen-4.0-generate-001",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			ServiceName: "studio",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// DatabasePath is the SQLite file holding job records.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "studio.db")
}

// ProjectsDir is the root of per-project storage.
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.DataDir, "projects")
}

// AuditLogPath is where job and artifact audit events are written.
func (c *Config) AuditLogPath() string {
	return filepath.Join(c.DataDir, "audit.log")
}

// ImageAPIKey resolves the key for the image generator.
func (c *Config) ImageAPIKey() string {
	if c.Images.APIKey != "" {
		return c.Images.APIKey
	}
	for _, p := range c.AI.Profiles {
		if p.Provider == "gemini" && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// Override returns the override for an agent, or the zero value.
func (c *Config) Override(agent string) AgentOverride {
	if c.Agents == nil {
		return AgentOverride{}
	}
	return c.Agents[agent]
}

// profileModels are the models used by profiles created from the
// environment or the wizard. Agent definitions name Anthropic models, so
// every other provider needs its own.
var profileModels = map[string]string{
	"openai": "gpt-4.1",
	"gemini": "gemini-2.5-pro",
}

// DefaultProfileModel returns the model a new profile for provider uses, or
// "" when the agents' own models apply.
func DefaultProfileModel(provider string) string {
	return profileModels[provider]
}

var providerEnv = []struct {
	provider string
	env      string
}{
	{"anthropic", "ANTHROPIC_API_KEY"},
	{"openai", "OPENAI_API_KEY"},
	{"gemini", "GEMINI_API_KEY"},
}

// ApplyEnvProfiles adds a profile per provider key found in the environment
// when the config file defines no profiles.
func (c *Config) ApplyEnvProfiles() {
	if len(c.AI.Profiles) > 0 {
		return
	}
	for i, pe := range providerEnv {
		key := strings.TrimSpace(os.Getenv(pe.env))
		if key == "" {
			continue
		}
		c.AI.Profiles = append(c.AI.Profiles, AIProfile{
			ID:       pe.provider + "-env",
			Provider: pe.provider,
			APIKey:   key,
			Priority: i + 1,
			Model:    DefaultProfileModel(pe.provider),
		})
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		switch profile.Provider {
		case "anthropic":
		case "openai", "gemini":
			if profile.Model == "" {
				return fmt.Errorf("AI profile %s: model is required for provider %s", profile.ID, profile.Provider)
			}
		default:
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
	}

	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !isKnownAgent(name) {
			return fmt.Errorf("agents: unknown agent %s", name)
		}
		if o := c.Agents[name]; o.MaxIterations < 0 {
			return fmt.Errorf("agent %s: max_iterations must be >= 0", name)
		}
	}

	if c.Runner.MaxRetries < 0 {
		return fmt.Errorf("runner.max_retries must be >= 0")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	return nil
}

func isKnownAgent(name string) bool {
	for _, a := range KnownAgents {
		if a == name {
			return true
		}
	}
	return false
}
