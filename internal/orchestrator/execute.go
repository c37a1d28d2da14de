package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/stepwise/internal/graph"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// run carries the per-execution state that is not part of the plan.
type run struct {
	runID    string
	subject  string
	pause    *PauseController
	progress ProgressFunc
	// done holds entries persisted by an earlier, interrupted execution.
	done map[int]models.WorkingMemoryEntry
}

// ExecutePlan runs an approved plan layer by layer and returns the result.
//
// Cancelling ctx stops the run before the next layer; steps already running
// finish and are persisted. A cancelled plan stays executing so it can be
// resumed with ResumePlan. The returned error is non-nil only when the plan
// cannot be run at all.
func (o *Orchestrator) ExecutePlan(ctx context.Context, subjectID string, plan *models.ExecutionPlan, progress ProgressFunc) (*models.PlanResult, error) {
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status != models.PlanApproved {
		return nil, fmt.Errorf("plan %s is %s: %w", plan.PlanID, plan.Status, ErrPlanNotApproved)
	}
	return o.execute(ctx, plan, &run{subject: subjectID, progress: progress})
}

// ResumePlan continues a plan left executing by an interrupted or cancelled
// run. Steps that already have a persisted working-memory entry are not
// invoked again.
func (o *Orchestrator) ResumePlan(ctx context.Context, planID, subjectID string) (*models.PlanResult, error) {
	plan, err := o.loadPlan(planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanExecuting {
		return nil, fmt.Errorf("resume plan %s: status is %s", planID, plan.Status)
	}
	return o.resume(ctx, plan, &run{subject: subjectID})
}

func (o *Orchestrator) resume(ctx context.Context, plan *models.ExecutionPlan, r *run) (*models.PlanResult, error) {
	entries, err := o.store.ListWorkingMemory(plan.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load working memory of %s: %w", plan.PlanID, err)
	}
	r.done = make(map[int]models.WorkingMemoryEntry, len(entries))
	for _, e := range entries {
		r.done[e.StepNumber] = e
	}
	o.logger.Log("resuming plan %s with %d of %d steps done", plan.PlanID, len(r.done), len(plan.Steps))
	return o.execute(ctx, plan, r)
}

func (o *Orchestrator) execute(ctx context.Context, plan *models.ExecutionPlan, r *run) (*models.PlanResult, error) {
	layers, err := graph.BuildLayers(plan.Steps)
	if err != nil {
		return nil, fmt.Errorf("layer plan %s: %w", plan.PlanID, err)
	}
	plan.Layers = layers

	ctx, span := o.startPlanSpan(ctx, plan, r.runID)
	start := time.Now()

	entries := make(map[int]models.WorkingMemoryEntry, len(plan.Steps))
	var pending []*models.Step
	for _, s := range plan.Steps {
		if e, ok := r.done[s.StepNumber]; ok {
			entries[s.StepNumber] = e
			continue
		}
		pending = append(pending, s)
	}
	o.scorer.AssignBatch(ctx, pending, o.candidates)

	failed, skipped := countFailures(entries)
	o.persistStatus(plan, models.PlanExecuting, nil, failed, skipped)
	o.logger.Log("executing plan %s: %d layers, %d pending steps", plan.PlanID, len(layers), len(pending))

	var mu sync.Mutex
	cancelled := false
	total := len(plan.Steps)

	for i, layer := range layers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := r.pause.WaitIfPaused(ctx); err != nil {
			cancelled = true
			break
		}

		layerCtx, layerSpan := o.startLayerSpan(ctx, i, len(layer))
		// Steps of this layer see only entries of earlier layers.
		prior := orderedEntries(entries)

		var runnable []*models.Step
		for _, n := range layer {
			if _, ok := entries[n]; ok {
				continue
			}
			step := plan.Step(n)
			if dep := blockedBy(step, entries); dep != 0 {
				entry := o.skip(plan, step, dep)
				entries[n] = entry
				continue
			}
			runnable = append(runnable, step)
		}

		// In-flight steps finish even when the run is cancelled.
		stepCtx := context.WithoutCancel(layerCtx)
		g := new(errgroup.Group)
		g.SetLimit(o.policy.Execution.MaxConcurrency)
		for _, step := range runnable {
			g.Go(func() error {
				sctx, stepSpan := o.startStepSpan(stepCtx, step)
				entry := o.executor.ExecuteStep(sctx, r.subject, plan, step, prior)
				o.endStepSpan(stepSpan, entry)
				o.persistEntry(plan.PlanID, step, &entry)

				mu.Lock()
				entries[step.StepNumber] = entry
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		layerSpan.End()

		failed, skipped = countFailures(entries)
		o.persistStatus(plan, models.PlanExecuting, nil, failed, skipped)
		o.emitter.Emit(Event{
			Type:      EventLayerProgress,
			PlanID:    plan.PlanID,
			RunID:     r.runID,
			Completed: len(entries),
			Total:     total,
		})
		if r.progress != nil {
			r.progress(len(entries), total)
		}
		o.logger.Log("plan %s layer %d/%d done: %d/%d steps terminal", plan.PlanID, i+1, len(layers), len(entries), total)
	}

	result := &models.PlanResult{
		PlanID:           plan.PlanID,
		WorkingMemory:    orderedEntries(entries),
		TotalExecutionMs: time.Since(start).Milliseconds(),
	}
	result.Tally()

	if cancelled {
		result.Cancelled = true
		o.emitter.Emit(Event{
			Type:      EventPlanCancelled,
			PlanID:    plan.PlanID,
			RunID:     r.runID,
			Status:    string(result.Status),
			Completed: len(entries),
			Total:     total,
			Message:   "run stopped before all layers ran",
		})
		o.endPlanSpan(span, result)
		o.logger.Log("plan %s cancelled after %d/%d steps", plan.PlanID, len(entries), total)
		return result, nil
	}

	duration := result.TotalExecutionMs
	o.persistStatus(plan, result.PersistedStatus(), &duration, result.StepsFailed, result.StepsSkipped)

	eventType := EventPlanCompleted
	if result.Status == models.ResultFailed {
		eventType = EventPlanFailed
	}
	o.emitter.Emit(Event{
		Type:      eventType,
		PlanID:    plan.PlanID,
		RunID:     r.runID,
		Status:    string(result.Status),
		Completed: len(entries),
		Total:     total,
		Message:   fmt.Sprintf("%d completed, %d failed, %d skipped", result.StepsCompleted, result.StepsFailed, result.StepsSkipped),
	})
	o.recordOutcome(plan, result)
	o.endPlanSpan(span, result)
	o.logger.Log("plan %s finished: %s in %dms", plan.PlanID, result.Status, duration)
	return result, nil
}

// skip records a step that cannot run because a dependency did not complete.
func (o *Orchestrator) skip(plan *models.ExecutionPlan, step *models.Step, dep int) models.WorkingMemoryEntry {
	now := time.Now()
	step.Status = models.StepSkipped
	step.CompletedAt = &now
	entry := models.WorkingMemoryEntry{
		StepNumber:   step.StepNumber,
		CapabilityID: step.CapabilityID,
		Status:       models.StepSkipped,
		Summary:      fmt.Sprintf("Skipped: depends on failed step %d.", dep),
		CreatedAt:    now,
	}
	o.persistEntry(plan.PlanID, step, &entry)
	o.emitter.StepCompleted(plan.PlanID, entry)
	return entry
}

// blockedBy returns the first dependency that failed or was skipped, or 0.
func blockedBy(step *models.Step, entries map[int]models.WorkingMemoryEntry) int {
	deps := append([]int(nil), step.DependsOn...)
	sort.Ints(deps)
	for _, dep := range deps {
		e, ok := entries[dep]
		if !ok || e.Status != models.StepCompleted {
			return dep
		}
	}
	return 0
}

func orderedEntries(entries map[int]models.WorkingMemoryEntry) []models.WorkingMemoryEntry {
	out := make([]models.WorkingMemoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

func countFailures(entries map[int]models.WorkingMemoryEntry) (failed, skipped int) {
	for _, e := range entries {
		switch e.Status {
		case models.StepFailed:
			failed++
		case models.StepSkipped:
			skipped++
		}
	}
	return failed, skipped
}
