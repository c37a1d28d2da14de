// Package config handles configuration loading for stepwise.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/stepwise/internal/delegation"
	"github.com/ShayCichocki/stepwise/internal/orchestrator/policy"
)

// ProjectConfigName is the file searched for in the working directory and its parents.
const ProjectConfigName = ".stepwise.yaml"

// Config holds all configuration for stepwise.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Events       EventsConfig       `mapstructure:"events"`
	Verification VerificationConfig `mapstructure:"verification"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Delegation   DelegationConfig   `mapstructure:"delegation"`
}

// DatabaseConfig locates the sqlite state database.
type DatabaseConfig struct {
	// Path is the database file. Empty means <workspace>/.stepwise/state.db.
	Path string `mapstructure:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// OrchestratorConfig holds execution and delivery knobs.
type OrchestratorConfig struct {
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	EventBuffer        int           `mapstructure:"event_buffer"`
	SinkRetries        int           `mapstructure:"sink_retries"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	WorkingMemoryBytes int           `mapstructure:"working_memory_bytes"`
	DefaultExecutor    string        `mapstructure:"default_executor"`
	WorkloadPenalty    float64       `mapstructure:"workload_penalty"`
}

// PlannerConfig selects and configures the planning oracle.
type PlannerConfig struct {
	// Kind is "anthropic" or "file".
	Kind       string `mapstructure:"kind"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	PlanFile   string `mapstructure:"plan_file"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// CapabilitiesConfig locates the capability manifest.
type CapabilitiesConfig struct {
	File string `mapstructure:"file"`
}

// EventsConfig configures lifecycle event sinks.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Log           bool   `mapstructure:"log"`
}

// VerificationConfig configures output verification.
type VerificationConfig struct {
	PoliciesFile    string  `mapstructure:"policies_file"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
}

// ApprovalConfig configures when trust history waives approval.
type ApprovalConfig struct {
	MinTrustSuccesses int64   `mapstructure:"min_trust_successes"`
	MinTrustRate      float64 `mapstructure:"min_trust_rate"`
}

// DelegationConfig lists the executors steps are delegated to.
type DelegationConfig struct {
	Candidates []CandidateConfig `mapstructure:"candidates"`
}

// CandidateConfig is one executor and the capability paths or names it may run.
type CandidateConfig struct {
	ID           string   `mapstructure:"id"`
	Capabilities []string `mapstructure:"capabilities"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (STEPWISE_*, ANTHROPIC_API_KEY)
// 2. Project config (.stepwise.yaml in current directory or parent)
// 3. User config (~/.config/stepwise/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, with defaults and
// environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// STEPWISE_ORCHESTRATOR_MAX_CONCURRENCY overrides orchestrator.max_concurrency.
	v.SetEnvPrefix("stepwise")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "STEPWISE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Database.Path = expandEnv(cfg.Database.Path)
	cfg.Planner.PlanFile = expandEnv(cfg.Planner.PlanFile)
	cfg.Capabilities.File = expandEnv(cfg.Capabilities.File)
	cfg.Verification.PoliciesFile = expandEnv(cfg.Verification.PoliciesFile)
	cfg.Events.NATSURL = expandEnv(cfg.Events.NATSURL)

	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("database.path", cfg.Database.Path)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("orchestrator.max_concurrency", cfg.Orchestrator.MaxConcurrency)
	v.Set("orchestrator.event_buffer", cfg.Orchestrator.EventBuffer)
	v.Set("orchestrator.sink_retries", cfg.Orchestrator.SinkRetries)
	v.Set("orchestrator.retry_backoff", cfg.Orchestrator.RetryBackoff.String())
	v.Set("orchestrator.working_memory_bytes", cfg.Orchestrator.WorkingMemoryBytes)
	v.Set("orchestrator.default_executor", cfg.Orchestrator.DefaultExecutor)
	v.Set("orchestrator.workload_penalty", cfg.Orchestrator.WorkloadPenalty)
	v.Set("planner.kind", cfg.Planner.Kind)
	v.Set("planner.model", cfg.Planner.Model)
	v.Set("planner.max_tokens", cfg.Planner.MaxTokens)
	v.Set("planner.plan_file", cfg.Planner.PlanFile)
	v.Set("planner.use_bedrock", cfg.Planner.UseBedrock)
	v.Set("planner.aws_region", cfg.Planner.AWSRegion)
	v.Set("planner.aws_profile", cfg.Planner.AWSProfile)
	v.Set("capabilities.file", cfg.Capabilities.File)
	v.Set("events.nats_url", cfg.Events.NATSURL)
	v.Set("events.subject_prefix", cfg.Events.SubjectPrefix)
	v.Set("events.log", cfg.Events.Log)
	v.Set("verification.policies_file", cfg.Verification.PoliciesFile)
	v.Set("verification.confidence_floor", cfg.Verification.ConfidenceFloor)
	v.Set("approval.min_trust_successes", cfg.Approval.MinTrustSuccesses)
	v.Set("approval.min_trust_rate", cfg.Approval.MinTrustRate)
	if len(cfg.Delegation.Candidates) > 0 {
		candidates := make([]map[string]any, 0, len(cfg.Delegation.Candidates))
		for _, c := range cfg.Delegation.Candidates {
			candidates = append(candidates, map[string]any{"id": c.ID, "capabilities": c.Capabilities})
		}
		v.Set("delegation.candidates", candidates)
	}

	return v.WriteConfig()
}

// Policy maps the orchestrator knobs onto a policy configuration. Values
// outside their valid range fall back to the policy defaults.
func (c *Config) Policy() *policy.Config {
	p := policy.Default()
	p.Execution.MaxConcurrency = c.Orchestrator.MaxConcurrency
	p.Execution.WorkingMemoryBytes = c.Orchestrator.WorkingMemoryBytes
	p.Events.BufferSize = c.Orchestrator.EventBuffer
	p.Events.SinkRetries = c.Orchestrator.SinkRetries
	p.Events.RetryBackoff = c.Orchestrator.RetryBackoff
	p.Delegation.DefaultExecutor = c.Orchestrator.DefaultExecutor
	p.Delegation.WorkloadPenalty = c.Orchestrator.WorkloadPenalty
	p.Approval.MinTrustSuccesses = c.Approval.MinTrustSuccesses
	p.Approval.MinTrustRate = c.Approval.MinTrustRate
	p.Verification.ConfidenceFloor = c.Verification.ConfidenceFloor
	_ = p.Validate()
	return p
}

// Candidates returns the configured delegation candidates. Entries without
// an id are skipped.
func (c *Config) Candidates() []delegation.Candidate {
	out := make([]delegation.Candidate, 0, len(c.Delegation.Candidates))
	for _, cc := range c.Delegation.Candidates {
		if cc.ID == "" {
			continue
		}
		out = append(out, delegation.Candidate{ID: cc.ID, Capabilities: append([]string(nil), cc.Capabilities...)})
	}
	return out
}

// DatabasePath returns the configured database path, or the default location
// inside the workspace.
func (c *Config) DatabasePath(workspace string) string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(workspace, ".stepwise", "state.db")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("anthropic.api_key", "")

	v.SetDefault("orchestrator.max_concurrency", d.Orchestrator.MaxConcurrency)
	v.SetDefault("orchestrator.event_buffer", d.Orchestrator.EventBuffer)
	v.SetDefault("orchestrator.sink_retries", d.Orchestrator.SinkRetries)
	v.SetDefault("orchestrator.retry_backoff", d.Orchestrator.RetryBackoff.String())
	v.SetDefault("orchestrator.working_memory_bytes", d.Orchestrator.WorkingMemoryBytes)
	v.SetDefault("orchestrator.default_executor", d.Orchestrator.DefaultExecutor)
	v.SetDefault("orchestrator.workload_penalty", d.Orchestrator.WorkloadPenalty)

	v.SetDefault("planner.kind", d.Planner.Kind)
	v.SetDefault("planner.model", d.Planner.Model)
	v.SetDefault("planner.max_tokens", d.Planner.MaxTokens)
	v.SetDefault("planner.plan_file", d.Planner.PlanFile)
	v.SetDefault("planner.use_bedrock", d.Planner.UseBedrock)
	v.SetDefault("planner.aws_region", d.Planner.AWSRegion)
	v.SetDefault("planner.aws_profile", "")

	v.SetDefault("capabilities.file", d.Capabilities.File)

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("events.log", d.Events.Log)

	v.SetDefault("verification.policies_file", "")
	v.SetDefault("verification.confidence_floor", d.Verification.ConfidenceFloor)

	v.SetDefault("approval.min_trust_successes", d.Approval.MinTrustSuccesses)
	v.SetDefault("approval.min_trust_rate", d.Approval.MinTrustRate)
}

// getUserConfigDir returns the XDG config directory for stepwise.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stepwise")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stepwise")
	}
	return filepath.Join(home, ".config", "stepwise")
}

// findProjectConfig searches for .stepwise.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	p := policy.Default()
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrency:     p.Execution.MaxConcurrency,
			EventBuffer:        p.Events.BufferSize,
			SinkRetries:        p.Events.SinkRetries,
			RetryBackoff:       p.Events.RetryBackoff,
			WorkingMemoryBytes: p.Execution.WorkingMemoryBytes,
			DefaultExecutor:    p.Delegation.DefaultExecutor,
			WorkloadPenalty:    p.Delegation.WorkloadPenalty,
		},
		Planner: PlannerConfig{
			Kind:      "anthropic",
			MaxTokens: 4096,
			AWSRegion: "us-east-1",
		},
		Capabilities: CapabilitiesConfig{
			File: "capabilities.yaml",
		},
		Events: EventsConfig{
			SubjectPrefix: "stepwise.events",
			Log:           true,
		},
		Verification: VerificationConfig{
			ConfidenceFloor: p.Verification.ConfidenceFloor,
		},
		Approval: ApprovalConfig{
			MinTrustSuccesses: p.Approval.MinTrustSuccesses,
			MinTrustRate:      p.Approval.MinTrustRate,
		},
	}
}
