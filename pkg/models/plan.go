package models

import (
	"sort"
	"time"
)

// RiskLevel is the ordered risk classification of a plan.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid returns true if the risk level is a known value.
func (r RiskLevel) Valid() bool {
	return r.Rank() >= 0
}

// Rank returns the ordinal of the risk level, or -1 for unknown values.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// MaxRisk returns the higher of two risk levels. Unknown values rank below low.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Sensitivity is the data-sensitivity class a step touches.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
	SensitivityRegulated    Sensitivity = "regulated"
)

// Valid returns true if the sensitivity is a known value.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityPublic, SensitivityInternal, SensitivityConfidential, SensitivityRestricted, SensitivityRegulated:
		return true
	default:
		return false
	}
}

// Risk maps a sensitivity class to the risk it implies.
// An undeclared sensitivity is treated as public.
func (s Sensitivity) Risk() RiskLevel {
	switch s {
	case SensitivityInternal:
		return RiskMedium
	case SensitivityConfidential:
		return RiskHigh
	case SensitivityRestricted, SensitivityRegulated:
		return RiskCritical
	default:
		return RiskLow
	}
}

// PlanStatus represents the persisted lifecycle state of a plan.
type PlanStatus string

const (
	PlanPendingApproval PlanStatus = "pending_approval"
	PlanApproved        PlanStatus = "approved"
	PlanExecuting       PlanStatus = "executing"
	PlanCompleted       PlanStatus = "completed"
	PlanFailed          PlanStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanPendingApproval, PlanApproved, PlanExecuting, PlanCompleted, PlanFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed plans.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed
}

// ExecutionPlan is a persisted DAG of steps built for one task request.
type ExecutionPlan struct {
	// PlanID is generated once and never changes.
	PlanID string `json:"plan_id"`
	// SubjectID is the principal the plan was built for.
	SubjectID string `json:"subject_id"`
	// TaskDescription is the request the plan accomplishes.
	TaskDescription string `json:"task_description"`
	// Steps is the ordered list of steps.
	Steps []*Step `json:"steps"`
	// Layers groups step numbers for concurrent execution.
	Layers [][]int `json:"layers"`
	// EstimatedDurationMs is the oracle's duration estimate.
	EstimatedDurationMs int64 `json:"estimated_duration_ms"`
	// RiskLevel is the maximum risk across the steps' sensitivities.
	RiskLevel RiskLevel `json:"risk_level"`
	// ApprovalRequired indicates the plan needs explicit approval.
	ApprovalRequired bool `json:"approval_required"`
	// ReasoningTrace explains how the plan was built.
	ReasoningTrace string `json:"reasoning_trace,omitempty"`
	// ParentPlanID is set when this plan extends another.
	ParentPlanID string `json:"parent_plan_id,omitempty"`
	// Status is the persisted lifecycle state.
	Status PlanStatus `json:"status"`
	// ActualDurationMs is recorded when execution finishes.
	ActualDurationMs int64 `json:"actual_duration_ms,omitempty"`
	// StepsFailed and StepsSkipped record the counts behind a partial result.
	StepsFailed  int `json:"steps_failed,omitempty"`
	StepsSkipped int `json:"steps_skipped,omitempty"`
	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the plan row was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the step with the given number, or nil.
func (p *ExecutionPlan) Step(n int) *Step {
	for _, s := range p.Steps {
		if s.StepNumber == n {
			return s
		}
	}
	return nil
}

// CapabilityIDs returns the sorted, de-duplicated capability ids used by the plan.
func (p *ExecutionPlan) CapabilityIDs() []string {
	set := make(map[string]struct{}, len(p.Steps))
	for _, s := range p.Steps {
		set[s.CapabilityID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ComputeRisk returns the maximum risk implied by the steps' sensitivities.
func ComputeRisk(steps []*Step) RiskLevel {
	risk := RiskLow
	for _, s := range steps {
		risk = MaxRisk(risk, s.Sensitivity.Risk())
	}
	return risk
}
