package exec

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

type fakeRunner struct {
	out   []byte
	err   error
	calls []fakeCall
}

type fakeCall struct {
	workDir, command string
	stdin            []byte
	env              []string
}

func (f *fakeRunner) RunShell(_ context.Context, workDir, command string, stdin []byte, env []string) ([]byte, error) {
	f.calls = append(f.calls, fakeCall{workDir, command, stdin, env})
	return f.out, f.err
}

func TestExecRunner_RunShell(t *testing.T) {
	r := NewRunner()
	dir := t.TempDir()

	out, err := r.RunShell(context.Background(), dir, `cat; printf " $GREETING"`, []byte("hello"), []string{"GREETING=world"})
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if string(out) != "hello world" {
		t.Errorf("RunShell() = %q, want %q", out, "hello world")
	}

	_, err = r.RunShell(context.Background(), dir, "echo broken >&2; exit 3", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("RunShell() error = %v, want stderr in error", err)
	}
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name          string
		out           string
		wantSummary   string
		wantArtifacts []string
		wantKey       string
	}{
		{"json envelope", `{"summary":"Found 3.","artifacts":["a.md",1],"hints":["rank them"],"count":3}`, "Found 3.", []string{"a.md"}, "count"},
		{"plain text", "just words\n", "", nil, "text"},
		{"json array is text", `[1,2]`, "", nil, "text"},
		{"broken json is text", `{"summary":`, "", nil, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseOutput([]byte(tt.out))
			if res.Summary != tt.wantSummary {
				t.Errorf("Summary = %q, want %q", res.Summary, tt.wantSummary)
			}
			if strings.Join(res.Artifacts, ",") != strings.Join(tt.wantArtifacts, ",") {
				t.Errorf("Artifacts = %v, want %v", res.Artifacts, tt.wantArtifacts)
			}
			if _, ok := res.Output[tt.wantKey]; !ok {
				t.Errorf("Output = %v, missing %q", res.Output, tt.wantKey)
			}
		})
	}
}

func TestCommandCapability_Invoke(t *testing.T) {
	runner := &fakeRunner{out: []byte(`{"summary":"done"}`)}
	c := &CommandCapability{Command: "./run.sh", WorkDir: "/w", Env: []string{"TOKEN=x"}, Runner: runner}

	res, err := c.Invoke(context.Background(), map[string]any{"q": "rivals"}, capability.InvocationContext{
		PlanID: "p1", StepNumber: 2, Attempt: 2, Prior: "Step 1 (search, completed): ok", Feedback: []string{"cite sources"},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Summary != "done" {
		t.Errorf("Summary = %q", res.Summary)
	}

	call := runner.calls[0]
	if call.workDir != "/w" || call.command != "./run.sh" {
		t.Errorf("call = %+v", call)
	}
	var req Request
	if err := json.Unmarshal(call.stdin, &req); err != nil {
		t.Fatalf("stdin is not JSON: %v", err)
	}
	if req.PlanID != "p1" || req.StepNumber != 2 || req.Input["q"] != "rivals" || len(req.Feedback) != 1 {
		t.Errorf("request = %+v", req)
	}
	env := strings.Join(call.env, " ")
	for _, want := range []string{"STEPWISE_PLAN_ID=p1", "STEPWISE_STEP=2", "STEPWISE_ATTEMPT=2", "TOKEN=x"} {
		if !strings.Contains(env, want) {
			t.Errorf("env %q missing %s", env, want)
		}
	}

	runner.err = errors.New("exit status 1")
	if _, err := c.Invoke(context.Background(), nil, capability.InvocationContext{}); err == nil {
		t.Error("Invoke() should fail when the command fails")
	}
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"missing id", "capabilities:\n  - command: x\n", "id is required"},
		{"missing command", "capabilities:\n  - id: a\n", "command is required"},
		{"bad sensitivity", "capabilities:\n  - id: a\n    command: x\n    sensitivity: secret\n", "unknown sensitivity"},
		{"not yaml", "capabilities: [", "parse capabilities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseManifest() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestManifest_Register(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.yaml")
	content := `
capabilities:
  - id: search
    path: research/search
    category: research
    tier: trusted
    sensitivity: public
    command: echo '{"summary":"ok"}'
  - id: send_email
    tier: supervised
    sensitivity: confidential
    command: ./send.sh
    work_dir: scripts
    env:
      SMTP_HOST: localhost
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	reg := capability.NewRegistry()
	if err := m.Register(reg, NewRunner()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	desc, ok := reg.Describe("search")
	if !ok || desc.Tier != capability.TierTrusted || desc.Category != "research" || desc.Sensitivity != models.SensitivityPublic {
		t.Errorf("search descriptor = %+v", desc)
	}

	impl, desc, err := reg.Resolve("send_email")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if desc.Tier != capability.TierSupervised || desc.Name != "send_email" {
		t.Errorf("send_email descriptor = %+v", desc)
	}
	cmd := impl.(*CommandCapability)
	if cmd.WorkDir != filepath.Join(dir, "scripts") || len(cmd.Env) != 1 || cmd.Env[0] != "SMTP_HOST=localhost" {
		t.Errorf("send_email capability = %+v", cmd)
	}

	search, _, _ := reg.Resolve("search")
	res, err := search.Invoke(context.Background(), nil, capability.InvocationContext{PlanID: "p", StepNumber: 1, Attempt: 1})
	if err != nil || res.Summary != "ok" {
		t.Errorf("search.Invoke() = %+v, %v", res, err)
	}
}
