package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxConcurrency != 4 {
		t.Errorf("expected max_concurrency 4, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.WorkingMemoryBytes != 800 {
		t.Errorf("expected working_memory_bytes 800, got %d", cfg.Orchestrator.WorkingMemoryBytes)
	}
	if cfg.Orchestrator.DefaultExecutor != "default" {
		t.Errorf("expected default executor 'default', got %q", cfg.Orchestrator.DefaultExecutor)
	}
	if cfg.Planner.Kind != "anthropic" {
		t.Errorf("expected planner kind 'anthropic', got %q", cfg.Planner.Kind)
	}
	if cfg.Events.SubjectPrefix != "stepwise.events" {
		t.Errorf("expected subject prefix 'stepwise.events', got %q", cfg.Events.SubjectPrefix)
	}
	if cfg.Approval.MinTrustSuccesses != 5 || cfg.Approval.MinTrustRate != 0.9 {
		t.Errorf("unexpected approval defaults %+v", cfg.Approval)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("STEPWISE_TEST_DB", "/var/lib/stepwise")
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, `
database:
  path: ${STEPWISE_TEST_DB}/state.db
orchestrator:
  max_concurrency: 8
  retry_backoff: 200ms
  workload_penalty: 2.5
planner:
  kind: file
  plan_file: plans.yaml
events:
  nats_url: nats://localhost:4222
approval:
  min_trust_successes: 3
delegation:
  candidates:
    - id: researcher
      capabilities: [research/search_competitors, summarize]
    - capabilities: [orphan]
    - id: writer
      capabilities: [draft_message]
`)

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/stepwise/state.db" {
		t.Errorf("expected expanded database path, got %q", cfg.Database.Path)
	}
	if cfg.Orchestrator.MaxConcurrency != 8 {
		t.Errorf("expected max_concurrency 8, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.RetryBackoff != 200*time.Millisecond {
		t.Errorf("expected retry_backoff 200ms, got %v", cfg.Orchestrator.RetryBackoff)
	}
	if cfg.Orchestrator.WorkloadPenalty != 2.5 {
		t.Errorf("expected workload_penalty 2.5, got %v", cfg.Orchestrator.WorkloadPenalty)
	}
	if cfg.Planner.Kind != "file" || cfg.Planner.PlanFile != "plans.yaml" {
		t.Errorf("unexpected planner %+v", cfg.Planner)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Errorf("expected nats url, got %q", cfg.Events.NATSURL)
	}
	// Unset keys keep their defaults.
	if cfg.Orchestrator.EventBuffer != 100 {
		t.Errorf("expected default event_buffer 100, got %d", cfg.Orchestrator.EventBuffer)
	}
	if cfg.Approval.MinTrustSuccesses != 3 || cfg.Approval.MinTrustRate != 0.9 {
		t.Errorf("unexpected approval %+v", cfg.Approval)
	}

	candidates := cfg.Candidates()
	if len(candidates) != 2 || candidates[0].ID != "researcher" || candidates[1].ID != "writer" {
		t.Fatalf("Candidates() = %+v, want researcher and writer", candidates)
	}
	if len(candidates[0].Capabilities) != 2 || candidates[0].Capabilities[1] != "summarize" {
		t.Errorf("researcher capabilities = %v", candidates[0].Capabilities)
	}
	if got := Default().Candidates(); len(got) != 0 {
		t.Errorf("default Candidates() = %v, want none", got)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_Precedence(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "stepwise", "config.yaml"), `
orchestrator:
  max_concurrency: 2
  event_buffer: 50
planner:
  model: user-model
`)

	project := t.TempDir()
	writeFile(t, filepath.Join(project, ProjectConfigName), `
orchestrator:
  max_concurrency: 6
`)
	nested := filepath.Join(project, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	t.Setenv("STEPWISE_PLANNER_MODEL", "env-model")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-environment")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Orchestrator.MaxConcurrency != 6 {
		t.Errorf("project config should override user config, got max_concurrency %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Orchestrator.EventBuffer != 50 {
		t.Errorf("user config value lost, got event_buffer %d", cfg.Orchestrator.EventBuffer)
	}
	if cfg.Planner.Model != "env-model" {
		t.Errorf("environment should override config, got model %q", cfg.Planner.Model)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-environment" {
		t.Errorf("expected api key from ANTHROPIC_API_KEY, got %q", cfg.Anthropic.APIKey)
	}
	if got := GetProjectConfigPath(); filepath.Base(got) != ProjectConfigName {
		t.Errorf("GetProjectConfigPath() = %q", got)
	}
}

func TestPolicy(t *testing.T) {
	cfg := Default()
	cfg.Orchestrator.MaxConcurrency = 9
	cfg.Orchestrator.WorkloadPenalty = 1.5
	cfg.Approval.MinTrustRate = 1.7
	cfg.Orchestrator.SinkRetries = -1

	p := cfg.Policy()
	if p.Execution.MaxConcurrency != 9 {
		t.Errorf("MaxConcurrency = %d, want 9", p.Execution.MaxConcurrency)
	}
	if p.Delegation.WorkloadPenalty != 1.5 {
		t.Errorf("WorkloadPenalty = %v, want 1.5", p.Delegation.WorkloadPenalty)
	}
	if p.Approval.MinTrustRate != 0.9 {
		t.Errorf("out-of-range MinTrustRate should reset to 0.9, got %v", p.Approval.MinTrustRate)
	}
	if p.Events.SinkRetries != 3 {
		t.Errorf("negative SinkRetries should reset to 3, got %d", p.Events.SinkRetries)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	if got := cfg.DatabasePath("/ws"); got != filepath.Join("/ws", ".stepwise", "state.db") {
		t.Errorf("DatabasePath() = %q", got)
	}
	cfg.Database.Path = "/tmp/custom.db"
	if got := cfg.DatabasePath("/ws"); got != "/tmp/custom.db" {
		t.Errorf("DatabasePath() = %q, want configured path", got)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "expanded-value")

	if result := expandEnv("prefix-${TEST_VAR}-suffix"); result != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", result)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/stepwise" {
		t.Errorf("expected /custom/config/stepwise, got %q", dir)
	}
	if path := GetUserConfigPath(); path != "/custom/config/stepwise/config.yaml" {
		t.Errorf("GetUserConfigPath() = %q", path)
	}
}
