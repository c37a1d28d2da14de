package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/stepwise/internal/config"
	"github.com/ShayCichocki/stepwise/internal/planner"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate() = %q, want abcd…", got)
	}
}

func TestLoadCapabilities(t *testing.T) {
	ws := t.TempDir()

	reg, err := loadCapabilities(ws, "capabilities.yaml")
	if err != nil {
		t.Fatalf("missing manifest: error = %v", err)
	}
	if reg.Len() != 0 {
		t.Errorf("missing manifest: %d capabilities, want empty registry", reg.Len())
	}

	if err := os.WriteFile(filepath.Join(ws, "capabilities.yaml"), []byte(capabilitiesTemplate), 0644); err != nil {
		t.Fatal(err)
	}
	reg, err = loadCapabilities(ws, "capabilities.yaml")
	if err != nil {
		t.Fatalf("loadCapabilities() error = %v", err)
	}
	if _, ok := reg.Describe("echo"); !ok {
		t.Error("template capability echo not registered")
	}

	if err := os.WriteFile(filepath.Join(ws, "bad.yaml"), []byte("capabilities:\n  - id: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCapabilities(ws, "bad.yaml"); err == nil {
		t.Error("invalid manifest should fail")
	}
}

func TestBuildOracle(t *testing.T) {
	cfg := config.Default()
	cfg.Planner.Kind = "file"
	if _, err := buildOracle(t.Context(), cfg, "/ws"); err == nil {
		t.Error("file planner without plan_file should fail")
	}

	cfg.Planner.PlanFile = "plans.yaml"
	oracle, err := buildOracle(t.Context(), cfg, "/ws")
	if err != nil {
		t.Fatalf("buildOracle() error = %v", err)
	}
	if fo, ok := oracle.(*planner.FileOracle); !ok || fo.Path != filepath.Join("/ws", "plans.yaml") {
		t.Errorf("oracle = %#v", oracle)
	}

	cfg.Planner.Kind = "telepathy"
	if _, err := buildOracle(t.Context(), cfg, "/ws"); err == nil || !strings.Contains(err.Error(), "telepathy") {
		t.Errorf("unknown kind error = %v", err)
	}
}

func TestConfigValuesMasksKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
	values := configValues(config.Default())

	if got := values["anthropic.api_key"]; strings.Contains(got, "abcdefghijkl") || !strings.HasPrefix(got, "sk-ant-...") {
		t.Errorf("api key shown as %q", got)
	}
	if values["orchestrator.max_concurrency"] != "4" {
		t.Errorf("max_concurrency = %q", values["orchestrator.max_concurrency"])
	}
}

func TestCandidateIDs(t *testing.T) {
	cfg := config.Default()
	if got := candidateIDs(cfg); got != "(none, steps run on default)" {
		t.Errorf("candidateIDs(default) = %q", got)
	}
	cfg.Delegation.Candidates = []config.CandidateConfig{
		{ID: "researcher", Capabilities: []string{"search"}},
		{ID: "writer"},
	}
	if got := candidateIDs(cfg); got != "researcher, writer" {
		t.Errorf("candidateIDs() = %q", got)
	}
}
