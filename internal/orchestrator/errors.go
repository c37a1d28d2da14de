package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

var (
	// ErrPlanNotFound is returned when a plan id has no stored plan.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanNotApproved is returned when executing a plan that is not approved.
	ErrPlanNotApproved = errors.New("plan not approved")
	// ErrRunNotFound is returned when a run id has no active run.
	ErrRunNotFound = errors.New("run not found")
	// ErrSupervisorClosed is returned when starting a run after Shutdown.
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// PlanNotExtendableError is returned when extending a plan that has not finished.
type PlanNotExtendableError struct {
	PlanID string
	Status models.PlanStatus
}

func (e *PlanNotExtendableError) Error() string {
	return fmt.Sprintf("plan %s is %s; only completed or failed plans can be extended", e.PlanID, e.Status)
}
