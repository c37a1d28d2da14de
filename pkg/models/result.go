package models

import "time"

// PlanResultStatus is the aggregate outcome of one plan execution.
type PlanResultStatus string

const (
	ResultCompleted PlanResultStatus = "completed"
	ResultFailed    PlanResultStatus = "failed"
	ResultPartial   PlanResultStatus = "partial"
)

// DeriveResultStatus applies the aggregate status rule: failed iff nothing
// completed, completed iff nothing failed or was skipped, partial otherwise.
// A plan with zero steps is completed.
func DeriveResultStatus(completed, failed, skipped int) PlanResultStatus {
	if completed+failed+skipped == 0 {
		return ResultCompleted
	}
	if completed == 0 {
		return ResultFailed
	}
	if failed == 0 && skipped == 0 {
		return ResultCompleted
	}
	return ResultPartial
}

// PlanResult is the in-memory, authoritative outcome of an execution.
type PlanResult struct {
	PlanID           string               `json:"plan_id"`
	Status           PlanResultStatus     `json:"status"`
	StepsCompleted   int                  `json:"steps_completed"`
	StepsFailed      int                  `json:"steps_failed"`
	StepsSkipped     int                  `json:"steps_skipped"`
	TotalExecutionMs int64                `json:"total_execution_ms"`
	WorkingMemory    []WorkingMemoryEntry `json:"working_memory"`
	// Escalations lists step numbers whose verification escalated.
	Escalations []int `json:"escalations,omitempty"`
	// Cancelled is set when the run stopped before every layer was walked.
	Cancelled bool `json:"cancelled,omitempty"`
}

// PersistedStatus maps the result onto the plan lifecycle.
// Partial results persist as completed with the counts recorded separately.
func (r *PlanResult) PersistedStatus() PlanStatus {
	if r.Status == ResultFailed {
		return PlanFailed
	}
	return PlanCompleted
}

// Tally recomputes the counters and status from the working memory.
func (r *PlanResult) Tally() {
	r.StepsCompleted, r.StepsFailed, r.StepsSkipped = 0, 0, 0
	r.Escalations = r.Escalations[:0]
	for _, e := range r.WorkingMemory {
		switch e.Status {
		case StepCompleted:
			r.StepsCompleted++
		case StepFailed:
			r.StepsFailed++
		case StepSkipped:
			r.StepsSkipped++
		}
		if e.Escalated {
			r.Escalations = append(r.Escalations, e.StepNumber)
		}
	}
	r.Status = DeriveResultStatus(r.StepsCompleted, r.StepsFailed, r.StepsSkipped)
}

// FirstFailure returns the first failed entry, if any.
func (r *PlanResult) FirstFailure() *WorkingMemoryEntry {
	for i := range r.WorkingMemory {
		if r.WorkingMemory[i].Status == StepFailed {
			return &r.WorkingMemory[i]
		}
	}
	return nil
}

// TrustRecord holds success/failure counters for one (subject, capability) pair.
// Counters are only ever incremented.
type TrustRecord struct {
	SubjectID    string `json:"subject_id"`
	CapabilityID string `json:"capability_id"`
	Successes    int64  `json:"successes"`
	Failures     int64  `json:"failures"`
}

// Total returns the number of recorded outcomes.
func (t TrustRecord) Total() int64 {
	return t.Successes + t.Failures
}

// SuccessRate returns the success ratio and whether any history exists.
func (t TrustRecord) SuccessRate() (float64, bool) {
	total := t.Total()
	if total == 0 {
		return 0, false
	}
	return float64(t.Successes) / float64(total), true
}

// RunStatus is the state of a background goal run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// GoalRun is one background execution of a plan.
type GoalRun struct {
	RunID      string     `json:"run_id"`
	PlanID     string     `json:"plan_id"`
	SubjectID  string     `json:"subject_id"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// WorkflowTemplate is a reusable plan shape derived from a fully successful plan.
type WorkflowTemplate struct {
	// Key is the comma-joined sorted set of capability ids.
	Key           string    `json:"key"`
	CapabilityIDs []string  `json:"capability_ids"`
	Steps         []*Step   `json:"steps"`
	Layers        [][]int   `json:"layers"`
	SourcePlanID  string    `json:"source_plan_id"`
	UseCount      int       `json:"use_count"`
	CreatedAt     time.Time `json:"created_at"`
}
