package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/delegation"
	"github.com/ShayCichocki/stepwise/internal/executor"
	"github.com/ShayCichocki/stepwise/internal/orchestrator/policy"
	"github.com/ShayCichocki/stepwise/internal/planner"
	"github.com/ShayCichocki/stepwise/internal/state"
	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/internal/verification"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

const tracerName = "github.com/ShayCichocki/stepwise/internal/orchestrator"

// Store is the durable store the orchestrator writes plans and working memory to.
type Store interface {
	state.PlanStore
	state.MemoryStore
}

// OutcomeRecorder receives the outcome of every finished execution.
type OutcomeRecorder interface {
	RecordPlanOutcome(plan *models.ExecutionPlan, result *models.PlanResult) error
}

// TemplateSource supplies known-good workflow templates.
type TemplateSource interface {
	FindTemplate(capabilityIDs []string) (*models.WorkflowTemplate, error)
	MarkTemplateUsed(key string) error
}

// Orchestrator plans and executes tasks.
type Orchestrator struct {
	store     Store
	registry  *capability.Registry
	oracle    planner.Oracle
	executor  *executor.Executor
	scorer    *delegation.Scorer
	emitter   *EventEmitter
	outcomes  OutcomeRecorder
	templates TemplateSource
	grants    *trust.Grants
	policy    *policy.Config
	logger    *DebugLogger
	tracer    trace.Tracer

	candidates  []delegation.Candidate
	ownsEmitter bool
}

// New creates an Orchestrator from RequiredConfig and functional options.
//
// Example:
//
//	orch := New(RequiredConfig{Store: db, Registry: reg, Oracle: oracle},
//		WithGate(gate),
//		WithVerifier(loop),
//		WithSinks(LogSink{}),
//	)
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	pol := o.policyConfig
	if pol == nil {
		pol = policy.Default()
	}
	pol.Validate()

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	emitter := o.emitter
	owns := false
	if emitter == nil {
		emitter = NewEventEmitter(EmitterConfig{
			BufferSize:   pol.Events.BufferSize,
			Retries:      pol.Events.SinkRetries,
			RetryBackoff: pol.Events.RetryBackoff,
			EmitTimeout:  pol.Events.EmitTimeout,
		}, o.sinks...)
		owns = true
	}

	grants := o.grants
	if grants == nil {
		grants = trust.NewGrants()
	}

	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	gate := o.gate
	if gate == nil && o.trustStore != nil {
		gate = trust.NewPolicyGate(o.trustStore, req.Registry, pol.Approval.MinTrustSuccesses, pol.Approval.MinTrustRate)
	}

	verifier := o.verifier
	if verifier == nil && o.policies != nil {
		verifier = verification.NewLoop(o.policies, verification.NewDefaultCoordinator(pol.Verification.ConfidenceFloor))
	}

	return &Orchestrator{
		store:    req.Store,
		registry: req.Registry,
		oracle:   req.Oracle,
		executor: executor.New(executor.Config{
			Registry:     req.Registry,
			Gate:         gate,
			Grants:       grants,
			Trust:        o.trustStore,
			Verifier:     verifier,
			Notifier:     emitter,
			Candidates:   o.candidates,
			MemoryBudget: pol.Execution.WorkingMemoryBytes,
		}),
		scorer: delegation.NewScorer(o.trustStore,
			delegation.WithWorkloadPenalty(pol.Delegation.WorkloadPenalty),
			delegation.WithDefaultExecutor(pol.Delegation.DefaultExecutor),
		),
		emitter:     emitter,
		outcomes:    o.outcomes,
		templates:   o.templates,
		grants:      grants,
		policy:      pol,
		logger:      logger,
		tracer:      tp.Tracer(tracerName),
		candidates:  o.candidates,
		ownsEmitter: owns,
	}
}

// Emitter returns the event emitter.
func (o *Orchestrator) Emitter() *EventEmitter {
	return o.emitter
}

// Grants returns the approval grants consulted for gated steps.
func (o *Orchestrator) Grants() *trust.Grants {
	return o.grants
}

// Store returns the durable store.
func (o *Orchestrator) Store() Store {
	return o.store
}

// Close flushes pending events. An emitter passed with WithEmitter is left open.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.ownsEmitter {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return o.emitter.Close(ctx)
}
