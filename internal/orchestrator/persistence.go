package orchestrator

import (
	"log"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Persistence during execution is best-effort: the in-memory PlanResult is
// authoritative and every write is idempotent, so failures are logged and
// execution continues.

func (o *Orchestrator) persistEntry(planID string, step *models.Step, entry *models.WorkingMemoryEntry) {
	if err := o.store.SaveStep(planID, step); err != nil {
		log.Printf("[orchestrator] WARNING: persist step %d of plan %s: %v", step.StepNumber, planID, err)
		o.logger.Log("persist step %d of %s failed: %v", step.StepNumber, planID, err)
	}
	if err := o.store.AppendWorkingMemory(planID, entry); err != nil {
		log.Printf("[orchestrator] WARNING: persist working memory %d of plan %s: %v", entry.StepNumber, planID, err)
		o.logger.Log("persist working memory %d of %s failed: %v", entry.StepNumber, planID, err)
	}
}

func (o *Orchestrator) persistStatus(plan *models.ExecutionPlan, status models.PlanStatus, durationMs *int64, failed, skipped int) {
	plan.Status = status
	plan.StepsFailed = failed
	plan.StepsSkipped = skipped
	if durationMs != nil {
		plan.ActualDurationMs = *durationMs
	}
	if err := o.store.UpdatePlanStatus(plan.PlanID, status, durationMs, failed, skipped); err != nil {
		log.Printf("[orchestrator] WARNING: persist status %s of plan %s: %v", status, plan.PlanID, err)
		o.logger.Log("persist status %s of %s failed: %v", status, plan.PlanID, err)
	}
}

func (o *Orchestrator) recordOutcome(plan *models.ExecutionPlan, result *models.PlanResult) {
	if o.outcomes == nil {
		return
	}
	if err := o.outcomes.RecordPlanOutcome(plan, result); err != nil {
		log.Printf("[orchestrator] WARNING: record outcome of plan %s: %v", plan.PlanID, err)
		o.logger.Log("record outcome of %s failed: %v", plan.PlanID, err)
	}
}
