package models

import (
	"fmt"
	"time"
)

// StepStatus represents the current state of a plan step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepRunning indicates the step's capability is being invoked.
	StepRunning StepStatus = "running"
	// StepCompleted indicates the step finished successfully.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the capability invocation failed.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was not invoked.
	StepSkipped StepStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Step represents one unit of work in an execution plan.
type Step struct {
	// StepNumber is the 1-based position of the step, unique within its plan.
	StepNumber int `json:"step_number" yaml:"step_number"`
	// CapabilityID identifies the capability this step invokes.
	CapabilityID string `json:"capability_id" yaml:"capability_id"`
	// CapabilityPath is a human-readable reference to the capability.
	CapabilityPath string `json:"capability_path,omitempty" yaml:"capability_path,omitempty"`
	// DependsOn lists step numbers that must finish before this step.
	DependsOn []int `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Status is the current state of the step.
	Status StepStatus `json:"status" yaml:"status"`
	// Sensitivity is the data-sensitivity class the step touches.
	Sensitivity Sensitivity `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	// InputData is the payload handed to the capability.
	InputData map[string]any `json:"input_data,omitempty" yaml:"input_data,omitempty"`
	// OutputData is the capability's structured result, set once completed.
	OutputData map[string]any `json:"output_data,omitempty" yaml:"output_data,omitempty"`
	// StartedAt is when the step started running.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"-"`
	// CompletedAt is when the step reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
	// AssignedExecutorID is the executor chosen for this step, if any.
	AssignedExecutorID string `json:"assigned_executor_id,omitempty" yaml:"assigned_executor_id,omitempty"`
}

// InvalidStepError reports a structurally invalid step.
type InvalidStepError struct {
	StepNumber int
	Reason     string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid step %d: %s", e.StepNumber, e.Reason)
}

// Validate checks the step's own fields.
// Dependency references are checked against the whole plan by ValidateSteps.
func (s *Step) Validate() error {
	if s.StepNumber < 1 {
		return &InvalidStepError{StepNumber: s.StepNumber, Reason: "step number must be positive"}
	}
	if s.CapabilityID == "" {
		return &InvalidStepError{StepNumber: s.StepNumber, Reason: "capability id is required"}
	}
	if s.Status != "" && !s.Status.Valid() {
		return &InvalidStepError{StepNumber: s.StepNumber, Reason: fmt.Sprintf("unknown status %q", s.Status)}
	}
	if s.Sensitivity != "" && !s.Sensitivity.Valid() {
		return &InvalidStepError{StepNumber: s.StepNumber, Reason: fmt.Sprintf("unknown sensitivity %q", s.Sensitivity)}
	}
	return nil
}

// HasForwardReference reports whether the step depends on itself or a later step.
func (s *Step) HasForwardReference() bool {
	for _, dep := range s.DependsOn {
		if dep >= s.StepNumber {
			return true
		}
	}
	return false
}

// ValidateSteps checks every step and that step numbers are unique and
// every dependency names a step in the list.
func ValidateSteps(steps []*Step) error {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s == nil {
			return &InvalidStepError{Reason: "nil step"}
		}
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.StepNumber] {
			return &InvalidStepError{StepNumber: s.StepNumber, Reason: "duplicate step number"}
		}
		seen[s.StepNumber] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return &InvalidStepError{StepNumber: s.StepNumber, Reason: fmt.Sprintf("depends on unknown step %d", dep)}
			}
		}
	}
	return nil
}
