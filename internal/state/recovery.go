package state

import (
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// InterruptedRun describes a goal run left in the running state by a
// process that exited before the run finished.
type InterruptedRun struct {
	Run *models.GoalRun
	// Plan is the plan the run was executing; nil if the row is missing.
	Plan *models.ExecutionPlan
	// StepsRecorded is the number of working-memory entries already persisted.
	StepsRecorded int
}

// RecoveryManager detects and cleans up interrupted runs on startup.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted returns every run still marked running.
// Callers must only use this before starting runs of their own.
func (rm *RecoveryManager) CheckForInterrupted() ([]InterruptedRun, error) {
	status := models.RunRunning
	runs, err := rm.db.ListRuns(&status)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var out []InterruptedRun
	for _, r := range runs {
		plan, err := rm.db.GetPlan(r.PlanID)
		if err != nil {
			return nil, fmt.Errorf("load plan %s: %w", r.PlanID, err)
		}
		n, err := rm.db.CountWorkingMemory(r.PlanID)
		if err != nil {
			return nil, err
		}
		out = append(out, InterruptedRun{Run: r, Plan: plan, StepsRecorded: n})
	}
	return out, nil
}

// MarkPaused moves an interrupted run to paused so it can be resumed later.
func (rm *RecoveryManager) MarkPaused(runID string) error {
	r, err := rm.db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if r == nil {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	r.Status = models.RunPaused
	r.Error = "interrupted"
	if err := rm.db.UpdateRun(r); err != nil {
		return fmt.Errorf("pause run %s: %w", runID, err)
	}
	log.Printf("[state] run %s marked paused after interruption", runID)
	return nil
}

// Clean marks an interrupted run and its plan as failed.
func (rm *RecoveryManager) Clean(runID string) error {
	r, err := rm.db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if r == nil {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	now := time.Now()
	r.Status = models.RunFailed
	r.Error = "interrupted"
	r.FinishedAt = &now
	if err := rm.db.UpdateRun(r); err != nil {
		return fmt.Errorf("fail run %s: %w", runID, err)
	}

	plan, err := rm.db.GetPlan(r.PlanID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan != nil && plan.Status == models.PlanExecuting {
		if err := rm.db.UpdatePlanStatus(plan.PlanID, models.PlanFailed, nil, plan.StepsFailed, plan.StepsSkipped); err != nil {
			return fmt.Errorf("fail plan %s: %w", plan.PlanID, err)
		}
	}

	log.Printf("[state] run %s cleaned up and marked as failed", runID)
	return nil
}
