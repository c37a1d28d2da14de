// Package executor runs a single plan step: approval gate, capability
// invocation, output verification and working-memory summarization.
package executor

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/delegation"
	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/internal/verification"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Notifier receives step lifecycle notifications. Implementations must not block.
type Notifier interface {
	StepStarted(planID string, step *models.Step)
	StepCompleted(planID string, entry models.WorkingMemoryEntry)
}

// Config wires an Executor. Registry is required; every other field has a
// usable zero value.
type Config struct {
	Registry *capability.Registry
	// Gate decides whether a step needs approval. Nil never requires it.
	Gate trust.Gate
	// Grants holds approvals already given for gated steps.
	Grants *trust.Grants
	// Trust receives one outcome per executed step.
	Trust trust.Store
	// Verifier checks outputs of categories that have a policy.
	Verifier *verification.Loop
	Notifier Notifier
	// Candidates are the executors eligible for delegation. More than one
	// lets the verification coordinator choose to re-delegate.
	Candidates []delegation.Candidate
	// MemoryBudget is the byte budget of each working-memory entry.
	MemoryBudget int
}

// Executor runs steps. It is safe for concurrent use by steps of one layer.
type Executor struct {
	cfg Config
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Gate == nil {
		cfg.Gate = trust.NeverRequire
	}
	if cfg.MemoryBudget <= 0 {
		cfg.MemoryBudget = models.DefaultMemoryBudget
	}
	return &Executor{cfg: cfg}
}

// ApprovalSkipSummary is the summary of a step skipped by the approval gate.
const ApprovalSkipSummary = "Skipped: approval required before this capability can run."

// ExecuteStep runs one step and returns its working-memory entry. The step is
// mutated in place. Domain failures are reported in the entry, never as an error.
// Only invoked steps record trust outcomes; a gated skip records none.
func (e *Executor) ExecuteStep(ctx context.Context, subjectID string, plan *models.ExecutionPlan, step *models.Step, prior []models.WorkingMemoryEntry) models.WorkingMemoryEntry {
	if e.cfg.Gate.ShouldRequireApproval(ctx, subjectID, step.CapabilityID, plan.RiskLevel) &&
		!e.cfg.Grants.IsGranted(plan.PlanID, step.StepNumber) {
		entry := e.finish(step, models.StepSkipped, ApprovalSkipSummary)
		entry.NextStepHints = []string{fmt.Sprintf("approve step %d of plan %s to run it", step.StepNumber, plan.PlanID)}
		e.notifyCompleted(plan.PlanID, entry)
		return entry
	}

	now := time.Now()
	step.Status = models.StepRunning
	step.StartedAt = &now
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.StepStarted(plan.PlanID, step)
	}

	entry := e.run(ctx, subjectID, plan, step, prior)

	success := entry.Status == models.StepCompleted && !entry.Escalated
	if e.cfg.Trust != nil {
		if err := e.cfg.Trust.RecordOutcome(ctx, subjectID, step.CapabilityID, success); err != nil {
			log.Printf("[executor] record outcome for %s/%s: %v", subjectID, step.CapabilityID, err)
		}
		// Delegation scores candidates by the history kept under their own id.
		if id := step.AssignedExecutorID; id != "" && id != subjectID {
			if err := e.cfg.Trust.RecordOutcome(ctx, id, step.CapabilityID, success); err != nil {
				log.Printf("[executor] record outcome for executor %s/%s: %v", id, step.CapabilityID, err)
			}
		}
	}

	e.notifyCompleted(plan.PlanID, entry)
	return entry
}

func (e *Executor) run(ctx context.Context, subjectID string, plan *models.ExecutionPlan, step *models.Step, prior []models.WorkingMemoryEntry) models.WorkingMemoryEntry {
	impl, desc, err := e.cfg.Registry.Resolve(step.CapabilityID)
	if err != nil {
		return e.finish(step, models.StepFailed, "Failed: "+err.Error())
	}

	ictx := capability.InvocationContext{
		PlanID:     plan.PlanID,
		StepNumber: step.StepNumber,
		SubjectID:  subjectID,
		Prior:      RenderPrior(prior),
		Attempt:    1,
	}

	res, err := invoke(ctx, impl, step.InputData, ictx)
	if err != nil {
		return e.finish(step, models.StepFailed, "Failed: "+err.Error())
	}

	var escalated bool
	if e.cfg.Verifier.HasPolicy(desc.Category) {
		latest := res
		outcome := e.cfg.Verifier.VerifyAndAdapt(ctx, verification.Request{
			SubjectID:     subjectID,
			Category:      desc.Category,
			Content:       res.Output,
			HasAlternates: len(e.cfg.Candidates) > 1,
			Retry: func(ctx context.Context, feedback []string) (map[string]any, error) {
				retryCtx := ictx
				retryCtx.Attempt = 2
				retryCtx.Feedback = feedback
				r, err := invoke(ctx, impl, step.InputData, retryCtx)
				if err != nil {
					return nil, err
				}
				latest = r
				return r.Output, nil
			},
		})
		if outcome.Retried {
			res = latest
		}
		escalated = outcome.Escalated
		if escalated {
			log.Printf("[executor] step %d of plan %s escalated: %s", step.StepNumber, plan.PlanID, outcome)
		}
	}

	step.OutputData = res.Output
	entry := e.finish(step, models.StepCompleted, completedSummary(desc, res))
	entry.ExtractedFacts = copyFacts(res.Output)
	entry.Artifacts = append([]string(nil), res.Artifacts...)
	entry.NextStepHints = append([]string(nil), res.Hints...)
	entry.Escalated = escalated
	entry.Compact(e.cfg.MemoryBudget)
	return entry
}

// finish moves the step to a terminal status and builds its entry.
func (e *Executor) finish(step *models.Step, status models.StepStatus, summary string) models.WorkingMemoryEntry {
	now := time.Now()
	step.Status = status
	step.CompletedAt = &now

	entry := models.WorkingMemoryEntry{
		StepNumber:   step.StepNumber,
		CapabilityID: step.CapabilityID,
		Status:       status,
		Summary:      summary,
		CreatedAt:    now,
	}
	entry.Compact(e.cfg.MemoryBudget)
	return entry
}

func (e *Executor) notifyCompleted(planID string, entry models.WorkingMemoryEntry) {
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.StepCompleted(planID, entry)
	}
}

// invoke calls the capability, converting a panic into an error.
func invoke(ctx context.Context, impl capability.Capability, input map[string]any, ictx capability.InvocationContext) (res *capability.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[executor] capability panic in step %d: %v\n%s", ictx.StepNumber, r, debug.Stack())
			res, err = nil, fmt.Errorf("capability panicked: %v", r)
		}
	}()

	start := time.Now()
	res, err = impl.Invoke(ctx, input, ictx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &capability.Result{}
	}
	if res.ExecutionTime == 0 {
		res.ExecutionTime = time.Since(start)
	}
	return res, nil
}

// RenderPrior concatenates the summaries of earlier steps, one per line.
// Raw outputs are never included.
func RenderPrior(prior []models.WorkingMemoryEntry) string {
	if len(prior) == 0 {
		return ""
	}
	lines := make([]string, len(prior))
	for i := range prior {
		lines[i] = prior[i].ContextLine()
	}
	return strings.Join(lines, "\n")
}

func completedSummary(desc capability.Descriptor, res *capability.Result) string {
	if s := strings.TrimSpace(res.Summary); s != "" {
		return s
	}
	if len(res.Output) == 0 {
		return fmt.Sprintf("Completed %s with no output.", desc.Name)
	}
	keys := make([]string, 0, len(res.Output))
	for k := range res.Output {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("Completed %s producing %s.", desc.Name, strings.Join(keys, ", "))
}

func copyFacts(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
