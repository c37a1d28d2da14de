package learning

import "github.com/ShayCichocki/stepwise/pkg/models"

// OutcomeProvider defines the interface for recording run outcomes and
// looking up reusable workflow templates.
type OutcomeProvider interface {
	// RecordPlanOutcome is called once per finished execution.
	RecordPlanOutcome(plan *models.ExecutionPlan, result *models.PlanResult) error

	// FindTemplate returns the known-good template for a capability set, or nil.
	FindTemplate(capabilityIDs []string) (*models.WorkflowTemplate, error)

	// MarkTemplateUsed records that a template seeded a new plan.
	MarkTemplateUsed(key string) error

	// Close releases all resources.
	Close() error
}

// Verify OutcomeStore implements OutcomeProvider at compile time.
var _ OutcomeProvider = (*OutcomeStore)(nil)
