package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// ExtendPlan plans a follow-up request on top of a finished plan. The new
// plan sees the prior plan's working memory through its task description and
// records the prior plan as its parent.
func (o *Orchestrator) ExtendPlan(ctx context.Context, planID, request, subjectID string) (*models.ExecutionPlan, error) {
	prior, err := o.loadPlan(planID)
	if err != nil {
		return nil, err
	}
	if !prior.Status.Terminal() {
		return nil, &PlanNotExtendableError{PlanID: planID, Status: prior.Status}
	}

	entries, err := o.store.ListWorkingMemory(planID)
	if err != nil {
		return nil, fmt.Errorf("load working memory of %s: %w", planID, err)
	}

	description := RenderContext(prior, entries) + "\n\nNew request: " + request
	plan, err := o.AnalyzeTaskWithOptions(ctx, description, subjectID, AnalyzeOptions{ParentPlanID: planID})
	if plan != nil {
		o.logger.Log("plan %s extends %s", plan.PlanID, planID)
	}
	return plan, err
}

// RenderContext renders a finished plan and its working memory as a context
// block for a follow-up plan.
func RenderContext(plan *models.ExecutionPlan, entries []models.WorkingMemoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous task: %s\n", plan.TaskDescription)
	fmt.Fprintf(&b, "Previous outcome: %s", plan.Status)
	if plan.StepsFailed > 0 || plan.StepsSkipped > 0 {
		fmt.Fprintf(&b, " (%d failed, %d skipped)", plan.StepsFailed, plan.StepsSkipped)
	}
	b.WriteString("\nPrevious results:")
	if len(entries) == 0 {
		b.WriteString("\n(none)")
	}
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(e.ContextLine())
	}
	return b.String()
}
