package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/planner"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

func TestExtendPlan(t *testing.T) {
	db := setupTestDB(t)
	reg := newRegistry(t, trusted("search", succeed()), trusted("draft", succeed()))

	var descriptions []string
	oracle := planner.OracleFunc(func(_ context.Context, description string, _ []capability.Descriptor) (*planner.Proposal, error) {
		descriptions = append(descriptions, description)
		return &planner.Proposal{Steps: []planner.ProposedStep{step(1, "search"), step(2, "draft", 1)}}, nil
	})
	orch := newTestOrchestrator(t, db, reg, oracle)

	first := analyze(t, orch)
	execute(t, orch, first)

	next, err := orch.ExtendPlan(context.Background(), first.PlanID, "Now email it", "alice")
	if err != nil {
		t.Fatalf("ExtendPlan() error = %v", err)
	}
	if next.ParentPlanID != first.PlanID {
		t.Errorf("ParentPlanID = %q, want %q", next.ParentPlanID, first.PlanID)
	}

	composed := descriptions[len(descriptions)-1]
	for _, want := range []string{"Previous task: test task", "Step 1 (search, completed)", "New request: Now email it"} {
		if !strings.Contains(composed, want) {
			t.Errorf("composed description missing %q:\n%s", want, composed)
		}
	}

	children, err := db.ListChildPlans(first.PlanID)
	if err != nil || len(children) != 1 || children[0].PlanID != next.PlanID {
		t.Errorf("ListChildPlans() = %v, %v", children, err)
	}
}

func TestExtendPlan_NotFinished(t *testing.T) {
	db := setupTestDB(t)
	reg := newRegistry(t, trusted("search", succeed()))
	orch := newTestOrchestrator(t, db, reg, staticOracle(step(1, "search")))

	plan := analyze(t, orch)
	_, err := orch.ExtendPlan(context.Background(), plan.PlanID, "more", "alice")

	var notExtendable *PlanNotExtendableError
	if !errors.As(err, &notExtendable) || notExtendable.Status != models.PlanApproved {
		t.Errorf("ExtendPlan() error = %v, want PlanNotExtendableError for approved plan", err)
	}

	if _, err := orch.ExtendPlan(context.Background(), "missing", "more", "alice"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("ExtendPlan(missing) error = %v, want ErrPlanNotFound", err)
	}
}

func TestRenderContext(t *testing.T) {
	plan := &models.ExecutionPlan{
		TaskDescription: "Research rivals",
		Status:          models.PlanCompleted,
		StepsFailed:     1,
	}
	entries := []models.WorkingMemoryEntry{
		{StepNumber: 1, CapabilityID: "search", Status: models.StepCompleted, Summary: "Found three."},
		{StepNumber: 2, CapabilityID: "rank", Status: models.StepFailed, Summary: "Timed out."},
	}

	got := RenderContext(plan, entries)
	want := "Previous task: Research rivals\n" +
		"Previous outcome: completed (1 failed, 0 skipped)\n" +
		"Previous results:\n" +
		"Step 1 (search, completed): Found three.\n" +
		"Step 2 (rank, failed): Timed out."
	if got != want {
		t.Errorf("RenderContext() =\n%s\nwant\n%s", got, want)
	}

	empty := RenderContext(&models.ExecutionPlan{TaskDescription: "x", Status: models.PlanFailed}, nil)
	if !strings.HasSuffix(empty, "Previous results:\n(none)") {
		t.Errorf("RenderContext(no entries) = %q", empty)
	}
}
