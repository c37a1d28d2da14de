package learning

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// RecordPlanOutcome stores the result of one plan execution, increments the
// tally of every capability that actually ran, and saves a workflow template
// when every step of the plan completed.
func (s *OutcomeStore) RecordPlanOutcome(plan *models.ExecutionPlan, result *models.PlanResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO plan_outcomes (plan_id, status, steps_completed, steps_failed, steps_skipped, total_execution_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.PlanID, string(result.Status), result.StepsCompleted, result.StepsFailed, result.StepsSkipped,
		result.TotalExecutionMs, now)
	if err != nil {
		return fmt.Errorf("insert plan outcome: %w", err)
	}

	for _, e := range result.WorkingMemory {
		var succ, fail int
		switch e.Status {
		case models.StepCompleted:
			succ = 1
		case models.StepFailed:
			fail = 1
		default:
			// Skipped steps never ran.
			continue
		}
		_, err = tx.Exec(`
			INSERT INTO capability_outcomes (capability_id, successes, failures, last_used_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(capability_id) DO UPDATE SET
				successes = successes + excluded.successes,
				failures = failures + excluded.failures,
				last_used_at = excluded.last_used_at
		`, e.CapabilityID, succ, fail, now)
		if err != nil {
			return fmt.Errorf("update capability tally: %w", err)
		}
	}

	if isTemplateCandidate(plan, result) {
		if err := saveTemplate(tx, plan, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isTemplateCandidate reports whether a plan's structure is known-good.
func isTemplateCandidate(plan *models.ExecutionPlan, result *models.PlanResult) bool {
	return plan != nil && len(plan.Steps) > 0 &&
		result.Status == models.ResultCompleted &&
		result.StepsCompleted == len(plan.Steps) &&
		!result.Cancelled && len(result.Escalations) == 0
}

func saveTemplate(tx *sql.Tx, plan *models.ExecutionPlan, now string) error {
	ids := plan.CapabilityIDs()

	// Templates carry structure only: runtime state is stripped.
	steps := make([]*models.Step, len(plan.Steps))
	for i, st := range plan.Steps {
		steps[i] = &models.Step{
			StepNumber:     st.StepNumber,
			CapabilityID:   st.CapabilityID,
			CapabilityPath: st.CapabilityPath,
			DependsOn:      append([]int(nil), st.DependsOn...),
			Status:         models.StepPending,
			Sensitivity:    st.Sensitivity,
			InputData:      st.InputData,
		}
	}

	idsJSON, _ := json.Marshal(ids)
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode template steps: %w", err)
	}
	layersJSON, _ := json.Marshal(plan.Layers)

	// An existing template keeps its use count and original source.
	_, err = tx.Exec(`
		INSERT INTO workflow_templates (template_key, capability_ids, steps, layers, source_plan_id, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(template_key) DO NOTHING
	`, TemplateKey(ids), string(idsJSON), string(stepsJSON), string(layersJSON), plan.PlanID, now)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}
