package orchestrator

import (
	"context"
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventStepStarted indicates a step has started execution.
	EventStepStarted EventType = "step.started"
	// EventStepCompleted indicates a step reached a terminal status.
	EventStepCompleted EventType = "step.completed"
	// EventLayerProgress is emitted after every layer.
	EventLayerProgress EventType = "layer.progress"
	// EventPlanCompleted indicates the plan finished with at least one completed step.
	EventPlanCompleted EventType = "plan.completed"
	// EventPlanFailed indicates no step of the plan completed.
	EventPlanFailed EventType = "plan.failed"
	// EventPlanCancelled indicates the run stopped before every layer ran.
	EventPlanCancelled EventType = "plan.cancelled"
)

// Event is a lifecycle notification. Every event carries the plan id;
// other fields are set where they apply.
type Event struct {
	Type         EventType `json:"type"`
	PlanID       string    `json:"plan_id"`
	RunID        string    `json:"run_id,omitempty"`
	StepNumber   int       `json:"step_number,omitempty"`
	CapabilityID string    `json:"capability_id,omitempty"`
	// Status is the step status for step events and the result status for plan events.
	Status string `json:"status,omitempty"`
	// Completed and Total report layer progress in steps.
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives delivered events. Deliver may fail; the emitter retries.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// ProgressFunc receives the number of terminal steps after each layer.
type ProgressFunc func(completed, total int)
