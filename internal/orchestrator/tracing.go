// Tracing instrumentation for plan execution.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// startAnalyzeSpan starts a span for planning a task.
func (o *Orchestrator) startAnalyzeSpan(ctx context.Context, subjectID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "plan.analyze")
	span.SetAttributes(attribute.String("plan.subject_id", subjectID))
	return ctx, span
}

// endAnalyzeSpan ends the analyze span with the resulting plan.
func (o *Orchestrator) endAnalyzeSpan(span trace.Span, plan *models.ExecutionPlan, fromTemplate bool, err error) {
	if plan != nil {
		span.SetAttributes(
			attribute.String("plan.id", plan.PlanID),
			attribute.Int("plan.steps", len(plan.Steps)),
			attribute.String("plan.risk", string(plan.RiskLevel)),
			attribute.Bool("plan.approval_required", plan.ApprovalRequired),
			attribute.Bool("plan.from_template", fromTemplate),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// startPlanSpan starts a span for one plan execution.
func (o *Orchestrator) startPlanSpan(ctx context.Context, plan *models.ExecutionPlan, runID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "plan.execute")
	span.SetAttributes(
		attribute.String("plan.id", plan.PlanID),
		attribute.String("plan.run_id", runID),
		attribute.Int("plan.steps", len(plan.Steps)),
	)
	return ctx, span
}

// endPlanSpan ends the plan span with the result.
func (o *Orchestrator) endPlanSpan(span trace.Span, result *models.PlanResult) {
	span.SetAttributes(
		attribute.String("plan.status", string(result.Status)),
		attribute.Int("plan.steps_completed", result.StepsCompleted),
		attribute.Int("plan.steps_failed", result.StepsFailed),
		attribute.Int("plan.steps_skipped", result.StepsSkipped),
		attribute.Bool("plan.cancelled", result.Cancelled),
	)
	if result.Status == models.ResultFailed {
		span.SetStatus(codes.Error, "plan failed")
	}
	span.End()
}

// startLayerSpan starts a span for one layer.
func (o *Orchestrator) startLayerSpan(ctx context.Context, index, size int) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "plan.layer")
	span.SetAttributes(
		attribute.Int("layer.index", index),
		attribute.Int("layer.size", size),
	)
	return ctx, span
}

// startStepSpan starts a span for one step.
func (o *Orchestrator) startStepSpan(ctx context.Context, step *models.Step) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "step."+step.CapabilityID)
	span.SetAttributes(
		attribute.Int("step.number", step.StepNumber),
		attribute.String("step.capability_id", step.CapabilityID),
		attribute.String("step.executor", step.AssignedExecutorID),
	)
	return ctx, span
}

// endStepSpan ends the step span with the step's outcome.
func (o *Orchestrator) endStepSpan(span trace.Span, entry models.WorkingMemoryEntry) {
	span.SetAttributes(
		attribute.String("step.status", string(entry.Status)),
		attribute.Bool("step.escalated", entry.Escalated),
	)
	if entry.Status == models.StepFailed {
		span.SetStatus(codes.Error, entry.Summary)
	}
	span.End()
}
