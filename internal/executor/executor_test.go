package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/internal/verification"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

type recordingNotifier struct {
	mu        sync.Mutex
	started   []int
	completed []models.WorkingMemoryEntry
}

func (n *recordingNotifier) StepStarted(_ string, s *models.Step) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, s.StepNumber)
}

func (n *recordingNotifier) StepCompleted(_ string, e models.WorkingMemoryEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, e)
}

type countingCap struct {
	calls atomic.Int32
	fn    func(ictx capability.InvocationContext) (*capability.Result, error)
}

func (c *countingCap) Invoke(_ context.Context, _ map[string]any, ictx capability.InvocationContext) (*capability.Result, error) {
	c.calls.Add(1)
	return c.fn(ictx)
}

func newRegistry(t *testing.T, desc capability.Descriptor, impl capability.Capability) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	if err := reg.Register(desc, impl); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func testPlan(risk models.RiskLevel, steps ...*models.Step) *models.ExecutionPlan {
	return &models.ExecutionPlan{PlanID: "plan-1", RiskLevel: risk, Steps: steps}
}

func TestExecuteStep_Success(t *testing.T) {
	c := &countingCap{fn: func(ictx capability.InvocationContext) (*capability.Result, error) {
		if !strings.Contains(ictx.Prior, "Step 1 (search, completed): Found three rivals.") {
			return nil, errors.New("prior context missing")
		}
		return &capability.Result{
			Output:    map[string]any{"draft": "Hello"},
			Summary:   "Drafted an intro. It is short. Extra sentence.",
			Artifacts: []string{"doc://1"},
			Hints:     []string{"send it"},
		}, nil
	}}
	n := &recordingNotifier{}
	store := trust.NewMemoryStore()
	ex := New(Config{
		Registry: newRegistry(t, capability.Descriptor{ID: "draft"}, c),
		Trust:    store,
		Notifier: n,
	})

	step := &models.Step{StepNumber: 2, CapabilityID: "draft", DependsOn: []int{1}}
	prior := []models.WorkingMemoryEntry{{StepNumber: 1, CapabilityID: "search", Status: models.StepCompleted, Summary: "Found three rivals."}}
	entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, prior)

	if entry.Status != models.StepCompleted || step.Status != models.StepCompleted {
		t.Fatalf("status = %s/%s, summary %q", entry.Status, step.Status, entry.Summary)
	}
	if entry.Summary != "Drafted an intro. It is short." {
		t.Errorf("Summary = %q, want two sentences", entry.Summary)
	}
	if entry.ExtractedFacts["draft"] != "Hello" || step.OutputData["draft"] != "Hello" {
		t.Errorf("facts = %v, output = %v", entry.ExtractedFacts, step.OutputData)
	}
	if len(entry.Artifacts) != 1 || len(entry.NextStepHints) != 1 {
		t.Errorf("artifacts %v hints %v", entry.Artifacts, entry.NextStepHints)
	}
	if step.StartedAt == nil || step.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	if len(n.started) != 1 || len(n.completed) != 1 {
		t.Errorf("notifications started=%v completed=%d", n.started, len(n.completed))
	}
	rec, _ := store.GetTrustRecord(context.Background(), "alice", "draft")
	if rec.Successes != 1 || rec.Failures != 0 {
		t.Errorf("trust record = %+v", rec)
	}
}

func TestExecuteStep_Failure(t *testing.T) {
	tests := []struct {
		name string
		fn   func(capability.InvocationContext) (*capability.Result, error)
		want string
	}{
		{"error", func(capability.InvocationContext) (*capability.Result, error) {
			return nil, errors.New("rate limited")
		}, "rate limited"},
		{"panic", func(capability.InvocationContext) (*capability.Result, error) {
			panic("nil map")
		}, "capability panicked: nil map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := trust.NewMemoryStore()
			ex := New(Config{
				Registry: newRegistry(t, capability.Descriptor{ID: "send"}, &countingCap{fn: tt.fn}),
				Trust:    store,
			})
			step := &models.Step{StepNumber: 1, CapabilityID: "send"}
			entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)
			if entry.Status != models.StepFailed || step.Status != models.StepFailed {
				t.Fatalf("status = %s", entry.Status)
			}
			if !strings.Contains(entry.Summary, tt.want) {
				t.Errorf("Summary = %q, want %q", entry.Summary, tt.want)
			}
			if step.OutputData != nil {
				t.Error("output stored for failed step")
			}
			rec, _ := store.GetTrustRecord(context.Background(), "alice", "send")
			if rec.Failures != 1 {
				t.Errorf("trust record = %+v", rec)
			}
		})
	}
}

func TestExecuteStep_UnknownCapability(t *testing.T) {
	ex := New(Config{Registry: capability.NewRegistry()})
	step := &models.Step{StepNumber: 1, CapabilityID: "ghost"}
	entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)
	if entry.Status != models.StepFailed || !strings.Contains(entry.Summary, "ghost") {
		t.Errorf("entry = %+v", entry)
	}
}

func TestExecuteStep_ApprovalGated(t *testing.T) {
	c := &countingCap{fn: func(capability.InvocationContext) (*capability.Result, error) {
		return &capability.Result{Output: map[string]any{"ok": true}}, nil
	}}
	desc := capability.Descriptor{ID: "send_email", Tier: capability.TierStandard}
	reg := newRegistry(t, desc, c)
	store := trust.NewMemoryStore()
	n := &recordingNotifier{}
	grants := trust.NewGrants()
	ex := New(Config{
		Registry: reg,
		Gate:     trust.NewPolicyGate(store, reg, 3, 0.8),
		Grants:   grants,
		Trust:    store,
		Notifier: n,
	})

	step := &models.Step{StepNumber: 1, CapabilityID: "send_email", AssignedExecutorID: "alpha"}
	plan := testPlan(models.RiskMedium, step)
	entry := ex.ExecuteStep(context.Background(), "alice", plan, step, nil)

	if entry.Status != models.StepSkipped || step.Status != models.StepSkipped {
		t.Fatalf("status = %s, want skipped", entry.Status)
	}
	if got := c.calls.Load(); got != 0 {
		t.Errorf("capability invoked %d times, want 0", got)
	}
	if entry.Summary != ApprovalSkipSummary {
		t.Errorf("Summary = %q", entry.Summary)
	}
	if len(n.started) != 0 {
		t.Error("step.started emitted for a gated step")
	}
	if rec, _ := store.GetTrustRecord(context.Background(), "alice", "send_email"); rec.Total() != 0 {
		t.Errorf("gated step recorded trust outcome: %+v", rec)
	}
	if rec, _ := store.GetTrustRecord(context.Background(), "alpha", "send_email"); rec.Total() != 0 {
		t.Errorf("gated step recorded executor outcome: %+v", rec)
	}

	grants.Grant(plan.PlanID, 1, "bob")
	step.Status = models.StepPending
	entry = ex.ExecuteStep(context.Background(), "alice", plan, step, nil)
	if entry.Status != models.StepCompleted || c.calls.Load() != 1 {
		t.Errorf("after grant: status %s, calls %d", entry.Status, c.calls.Load())
	}
}

func TestExecuteStep_VerificationRetrySuccess(t *testing.T) {
	c := &countingCap{fn: func(ictx capability.InvocationContext) (*capability.Result, error) {
		for _, f := range ictx.Feedback {
			if strings.Contains(f, "missing citation") {
				return &capability.Result{Output: map[string]any{"content": "Prices rose [1]."}, Summary: "Cited report."}, nil
			}
		}
		return &capability.Result{Output: map[string]any{"content": "Prices rose."}, Summary: "Uncited report."}, nil
	}}
	policies := verification.NewRegistry()
	policies.Register("research", verification.Citations("cite", "content"))
	store := trust.NewMemoryStore()
	ex := New(Config{
		Registry: newRegistry(t, capability.Descriptor{ID: "report", Category: "research"}, c),
		Verifier: verification.NewLoop(policies, verification.NewDefaultCoordinator(0)),
		Trust:    store,
	})

	step := &models.Step{StepNumber: 1, CapabilityID: "report"}
	entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)

	if entry.Status != models.StepCompleted || entry.Escalated {
		t.Fatalf("entry = %+v", entry)
	}
	if c.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", c.calls.Load())
	}
	if entry.Summary != "Cited report." || step.OutputData["content"] != "Prices rose [1]." {
		t.Errorf("retry output not adopted: %q %v", entry.Summary, step.OutputData)
	}
	if rec, _ := store.GetTrustRecord(context.Background(), "alice", "report"); rec.Successes != 1 {
		t.Errorf("trust record = %+v", rec)
	}
}

func TestExecuteStep_VerificationEscalates(t *testing.T) {
	c := &countingCap{fn: func(capability.InvocationContext) (*capability.Result, error) {
		return &capability.Result{Output: map[string]any{"content": "never cites"}}, nil
	}}
	policies := verification.NewRegistry()
	policies.Register("research", verification.Citations("cite", "content"))
	store := trust.NewMemoryStore()
	ex := New(Config{
		Registry: newRegistry(t, capability.Descriptor{ID: "report", Category: "research"}, c),
		Verifier: verification.NewLoop(policies, verification.NewDefaultCoordinator(0)),
		Trust:    store,
	})

	step := &models.Step{StepNumber: 1, CapabilityID: "report"}
	entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)
	if entry.Status != models.StepCompleted || !entry.Escalated {
		t.Errorf("entry = %+v, want completed and escalated", entry)
	}
	if rec, _ := store.GetTrustRecord(context.Background(), "alice", "report"); rec.Failures != 1 {
		t.Errorf("escalated step counted as success: %+v", rec)
	}
}

func TestExecuteStep_CompactsLargeOutput(t *testing.T) {
	big := strings.Repeat("x", 5000)
	c := &countingCap{fn: func(capability.InvocationContext) (*capability.Result, error) {
		return &capability.Result{Output: map[string]any{"a": big, "b": big, "c": big, "d": big, "e": big, "f": big}}, nil
	}}
	ex := New(Config{Registry: newRegistry(t, capability.Descriptor{ID: "dump"}, c)})
	step := &models.Step{StepNumber: 1, CapabilityID: "dump"}
	entry := ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)
	if entry.Size() > models.DefaultMemoryBudget {
		t.Errorf("entry size = %d, budget %d", entry.Size(), models.DefaultMemoryBudget)
	}
	if len(step.OutputData["a"].(string)) != 5000 {
		t.Error("step output truncated; only the entry should be compacted")
	}
}

func TestRenderPrior(t *testing.T) {
	if RenderPrior(nil) != "" {
		t.Error("RenderPrior(nil) not empty")
	}
	got := RenderPrior([]models.WorkingMemoryEntry{
		{StepNumber: 1, CapabilityID: "a", Status: models.StepCompleted, Summary: "one", ExtractedFacts: map[string]any{"raw": "secret"}},
		{StepNumber: 2, CapabilityID: "b", Status: models.StepFailed, Summary: "two"},
	})
	want := "Step 1 (a, completed): one\nStep 2 (b, failed): two"
	if got != want {
		t.Errorf("RenderPrior() = %q, want %q", got, want)
	}
}

func TestExecuteStep_RecordsExecutorOutcome(t *testing.T) {
	tests := []struct {
		name        string
		executor    string
		wantSubject int64
		wantAlpha   int64
	}{
		{"assigned executor", "alpha", 1, 1},
		{"unassigned", "", 1, 0},
		{"executor is the subject", "alice", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := trust.NewMemoryStore()
			ex := New(Config{
				Registry: newRegistry(t, capability.Descriptor{ID: "send"}, &countingCap{fn: func(capability.InvocationContext) (*capability.Result, error) {
					return nil, errors.New("bounced")
				}}),
				Trust: store,
			})
			step := &models.Step{StepNumber: 1, CapabilityID: "send", AssignedExecutorID: tt.executor}
			ex.ExecuteStep(context.Background(), "alice", testPlan(models.RiskLow, step), step, nil)

			subject, _ := store.GetTrustRecord(context.Background(), "alice", "send")
			alpha, _ := store.GetTrustRecord(context.Background(), "alpha", "send")
			if subject.Failures != tt.wantSubject || alpha.Failures != tt.wantAlpha {
				t.Errorf("failures alice=%d alpha=%d, want %d/%d", subject.Failures, alpha.Failures, tt.wantSubject, tt.wantAlpha)
			}
		})
	}
}
