package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/stepwise/internal/graph"
	"github.com/ShayCichocki/stepwise/internal/planner"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// AnalyzeOptions adjusts how a task is planned.
type AnalyzeOptions struct {
	// Capabilities are the capability ids the caller expects the plan to use.
	// When a stored template covers exactly this set, it is reused and the
	// oracle is not called.
	Capabilities []string
	// ParentPlanID links the new plan to the plan it extends.
	ParentPlanID string
}

// AnalyzeTask builds and persists an execution plan for a task description.
//
// A malformed or empty proposal yields a zero-step plan. A proposal whose
// dependencies form a cycle is persisted as pending_approval and returned
// together with a *graph.CyclicDependencyError.
func (o *Orchestrator) AnalyzeTask(ctx context.Context, description, subjectID string) (*models.ExecutionPlan, error) {
	return o.AnalyzeTaskWithOptions(ctx, description, subjectID, AnalyzeOptions{})
}

// AnalyzeTaskWithOptions is AnalyzeTask with template and lineage options.
func (o *Orchestrator) AnalyzeTaskWithOptions(ctx context.Context, description, subjectID string, opts AnalyzeOptions) (plan *models.ExecutionPlan, err error) {
	ctx, span := o.startAnalyzeSpan(ctx, subjectID)
	fromTemplate := false
	defer func() { o.endAnalyzeSpan(span, plan, fromTemplate, err) }()

	now := time.Now()
	plan = &models.ExecutionPlan{
		PlanID:          uuid.New().String(),
		SubjectID:       subjectID,
		TaskDescription: description,
		ParentPlanID:    opts.ParentPlanID,
		RiskLevel:       models.RiskLow,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var proposal *planner.Proposal
	templateKey := ""
	if tmpl := o.lookupTemplate(opts.Capabilities); tmpl != nil {
		fromTemplate = true
		templateKey = tmpl.Key
		plan.Steps = cloneSteps(tmpl.Steps)
		plan.ReasoningTrace = fmt.Sprintf("Reused workflow template %s from plan %s.", tmpl.Key, tmpl.SourcePlanID)
		o.logger.Log("plan %s built from template %s", plan.PlanID, tmpl.Key)
	} else {
		proposal, err = o.oracle.Propose(ctx, description, o.registry.Descriptors())
		switch {
		case errors.Is(err, planner.ErrMalformedProposal):
			log.Printf("[orchestrator] WARNING: oracle returned a malformed proposal: %v", err)
			plan.ReasoningTrace = fmt.Sprintf("No plan: the planning oracle returned a malformed proposal (%v).", err)
			proposal = nil
			err = nil
		case err != nil:
			return nil, fmt.Errorf("propose plan: %w", err)
		case proposal == nil || len(proposal.Steps) == 0:
			plan.ReasoningTrace = "No plan: the planning oracle proposed no steps."
			if proposal != nil && proposal.Reasoning != "" {
				plan.ReasoningTrace += " " + proposal.Reasoning
			}
			proposal = nil
		default:
			plan.Steps = proposal.ToSteps()
			plan.ReasoningTrace = proposal.Reasoning
			plan.EstimatedDurationMs = proposal.EstimatedDurationMs
		}
	}

	o.fillFromRegistry(plan.Steps)
	if err := models.ValidateSteps(plan.Steps); err != nil {
		return nil, fmt.Errorf("validate proposal: %w", err)
	}

	layers, layerErr := graph.BuildLayers(plan.Steps)
	var cycle *graph.CyclicDependencyError
	switch {
	case errors.As(layerErr, &cycle):
		plan.Layers = layers
		plan.ReasoningTrace = strings.TrimSpace(plan.ReasoningTrace + "\n" + cycle.Error() + "; approval refused until the plan is corrected.")
	case layerErr != nil:
		return nil, fmt.Errorf("build layers: %w", layerErr)
	default:
		if graph.HasForwardReferences(plan.Steps) {
			graph.Renumber(plan.Steps, layers)
		}
		plan.Layers = layers
	}

	plan.RiskLevel = models.ComputeRisk(plan.Steps)
	if proposal != nil && proposal.RiskLevel.Valid() {
		plan.RiskLevel = models.MaxRisk(plan.RiskLevel, proposal.RiskLevel)
	}
	plan.ApprovalRequired = plan.RiskLevel != models.RiskLow
	if proposal != nil && proposal.ApprovalRequired != nil {
		plan.ApprovalRequired = *proposal.ApprovalRequired
	}
	if plan.EstimatedDurationMs <= 0 {
		plan.EstimatedDurationMs = o.estimateDuration(plan)
	}

	plan.Status = models.PlanApproved
	if plan.ApprovalRequired || cycle != nil {
		plan.Status = models.PlanPendingApproval
	}

	if err := o.store.SavePlan(plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	if fromTemplate {
		if err := o.templates.MarkTemplateUsed(templateKey); err != nil {
			log.Printf("[orchestrator] WARNING: mark template %s used: %v", templateKey, err)
		}
	}
	o.logger.Log("plan %s analyzed: %d steps, %d layers, risk %s, status %s",
		plan.PlanID, len(plan.Steps), len(plan.Layers), plan.RiskLevel, plan.Status)

	if cycle != nil {
		return plan, cycle
	}
	return plan, nil
}

func (o *Orchestrator) lookupTemplate(capabilities []string) *models.WorkflowTemplate {
	if o.templates == nil || len(capabilities) == 0 {
		return nil
	}
	tmpl, err := o.templates.FindTemplate(capabilities)
	if err != nil {
		log.Printf("[orchestrator] WARNING: template lookup: %v", err)
		return nil
	}
	if tmpl == nil || len(tmpl.Steps) == 0 {
		return nil
	}
	return tmpl
}

// fillFromRegistry completes steps with registry metadata the proposal left out.
func (o *Orchestrator) fillFromRegistry(steps []*models.Step) {
	for _, s := range steps {
		desc, ok := o.registry.Describe(s.CapabilityID)
		if !ok {
			continue
		}
		if s.CapabilityPath == "" {
			s.CapabilityPath = desc.Path
		}
		if s.Sensitivity == "" {
			s.Sensitivity = desc.Sensitivity
		}
	}
}

// estimateDuration sums, per layer, the slowest capability's estimated cost.
func (o *Orchestrator) estimateDuration(plan *models.ExecutionPlan) int64 {
	var total int64
	for _, l := range plan.Layers {
		var slowest int64
		for _, n := range l {
			s := plan.Step(n)
			if s == nil {
				continue
			}
			if desc, ok := o.registry.Describe(s.CapabilityID); ok && desc.EstimatedCostMs > slowest {
				slowest = desc.EstimatedCostMs
			}
		}
		total += slowest
	}
	return total
}

func cloneSteps(steps []*models.Step) []*models.Step {
	out := make([]*models.Step, len(steps))
	for i, s := range steps {
		out[i] = &models.Step{
			StepNumber:     s.StepNumber,
			CapabilityID:   s.CapabilityID,
			CapabilityPath: s.CapabilityPath,
			DependsOn:      append([]int(nil), s.DependsOn...),
			Status:         models.StepPending,
			Sensitivity:    s.Sensitivity,
			InputData:      copyMap(s.InputData),
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApprovePlan moves a pending plan to approved and grants every gated step.
// Plans whose dependencies form a cycle cannot be approved.
func (o *Orchestrator) ApprovePlan(_ context.Context, planID, approver string) (*models.ExecutionPlan, error) {
	plan, err := o.loadPlan(planID)
	if err != nil {
		return nil, err
	}

	switch plan.Status {
	case models.PlanPendingApproval:
	case models.PlanApproved:
		o.grants.GrantAll(planID, approver)
		return plan, nil
	default:
		return nil, fmt.Errorf("approve plan %s: status is %s", planID, plan.Status)
	}

	if _, err := graph.BuildLayers(plan.Steps); err != nil {
		return nil, fmt.Errorf("approve plan %s: %w", planID, err)
	}

	if err := o.store.UpdatePlanStatus(planID, models.PlanApproved, nil, 0, 0); err != nil {
		return nil, fmt.Errorf("approve plan %s: %w", planID, err)
	}
	plan.Status = models.PlanApproved
	o.grants.GrantAll(planID, approver)
	o.logger.Log("plan %s approved by %s", planID, approver)
	return plan, nil
}

// ApproveStep grants one gated step of a plan without approving the others.
func (o *Orchestrator) ApproveStep(planID string, stepNumber int, approver string) {
	o.grants.Grant(planID, stepNumber, approver)
}

// GetPlan loads a plan and its steps.
func (o *Orchestrator) GetPlan(planID string) (*models.ExecutionPlan, error) {
	return o.loadPlan(planID)
}

func (o *Orchestrator) loadPlan(planID string) (*models.ExecutionPlan, error) {
	plan, err := o.store.GetPlan(planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", planID, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrPlanNotFound)
	}
	return plan, nil
}
