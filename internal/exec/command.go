package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/stepwise/internal/capability"
)

// Request is the JSON document written to a command's stdin.
type Request struct {
	PlanID     string         `json:"plan_id"`
	StepNumber int            `json:"step_number"`
	SubjectID  string         `json:"subject_id"`
	Attempt    int            `json:"attempt"`
	Input      map[string]any `json:"input"`
	Prior      string         `json:"prior,omitempty"`
	Feedback   []string       `json:"feedback,omitempty"`
}

// CommandCapability invokes a shell command for each step.
type CommandCapability struct {
	Command string
	WorkDir string
	Env     []string
	Runner  CommandRunner
}

// Invoke implements capability.Capability.
//
// A JSON object on stdout becomes the result output; its "summary",
// "artifacts" and "hints" keys also fill the matching result fields. Any
// other stdout is returned as {"text": ...}.
func (c *CommandCapability) Invoke(ctx context.Context, input map[string]any, ictx capability.InvocationContext) (*capability.Result, error) {
	req, err := json.Marshal(Request{
		PlanID:     ictx.PlanID,
		StepNumber: ictx.StepNumber,
		SubjectID:  ictx.SubjectID,
		Attempt:    ictx.Attempt,
		Input:      input,
		Prior:      ictx.Prior,
		Feedback:   ictx.Feedback,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	env := append([]string{
		"STEPWISE_PLAN_ID=" + ictx.PlanID,
		"STEPWISE_STEP=" + strconv.Itoa(ictx.StepNumber),
		"STEPWISE_ATTEMPT=" + strconv.Itoa(ictx.Attempt),
	}, c.Env...)

	runner := c.Runner
	if runner == nil {
		runner = NewRunner()
	}
	out, err := runner.RunShell(ctx, c.WorkDir, c.Command, req, env)
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}
	return ParseOutput(out), nil
}

// ParseOutput converts command stdout into a capability result.
func ParseOutput(out []byte) *capability.Result {
	trimmed := bytes.TrimSpace(out)

	var obj map[string]any
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &obj) == nil {
		res := &capability.Result{Output: obj}
		if s, ok := obj["summary"].(string); ok {
			res.Summary = s
		}
		res.Artifacts = stringList(obj["artifacts"])
		res.Hints = stringList(obj["hints"])
		return res
	}

	text := strings.TrimSpace(string(trimmed))
	return &capability.Result{Output: map[string]any{"text": text}}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var _ capability.Capability = (*CommandCapability)(nil)
