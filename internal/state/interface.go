package state

import (
	"errors"
	"io"

	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

// PlanStore handles plan and step persistence.
type PlanStore interface {
	SavePlan(p *models.ExecutionPlan) error
	SaveStep(planID string, s *models.Step) error
	GetPlan(id string) (*models.ExecutionPlan, error)
	UpdatePlanStatus(planID string, status models.PlanStatus, actualDurationMs *int64, stepsFailed, stepsSkipped int) error
	ListPlans(status *models.PlanStatus, limit int) ([]*models.ExecutionPlan, error)
}

// MemoryStore handles working-memory persistence.
// AppendWorkingMemory must be idempotent on (planID, stepNumber).
type MemoryStore interface {
	AppendWorkingMemory(planID string, e *models.WorkingMemoryEntry) error
	ListWorkingMemory(planID string) ([]models.WorkingMemoryEntry, error)
}

// RunStore handles goal-run persistence.
type RunStore interface {
	CreateRun(r *models.GoalRun) error
	UpdateRun(r *models.GoalRun) error
	GetRun(id string) (*models.GoalRun, error)
	ListRuns(status *models.RunStatus) ([]*models.GoalRun, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// StateStore composes every persistence concern the orchestrator uses.
type StateStore interface {
	io.Closer
	Migrator
	PlanStore
	MemoryStore
	RunStore
	trust.Store
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore  = (*DB)(nil)
	_ PlanStore   = (*DB)(nil)
	_ MemoryStore = (*DB)(nil)
	_ RunStore    = (*DB)(nil)
	_ trust.Store = (*DB)(nil)
)
