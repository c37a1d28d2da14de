package orchestrator

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/internal/delegation"
	"github.com/ShayCichocki/stepwise/internal/orchestrator/policy"
	"github.com/ShayCichocki/stepwise/internal/planner"
	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/internal/verification"
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Store persists plans and working memory.
	Store Store
	// Registry resolves capability ids.
	Registry *capability.Registry
	// Oracle proposes plans.
	Oracle planner.Oracle
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policyConfig   *policy.Config
	logger         *DebugLogger
	gate           trust.Gate
	trustStore     trust.Store
	grants         *trust.Grants
	verifier       *verification.Loop
	policies       *verification.Registry
	emitter        *EventEmitter
	sinks          []EventSink
	outcomes       OutcomeRecorder
	templates      TemplateSource
	candidates     []delegation.Candidate
	tracerProvider trace.TracerProvider
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithGate sets the approval gate. Without it, a trust store set with
// WithTrustStore builds a PolicyGate; with neither, no step needs approval.
func WithGate(g trust.Gate) Option {
	return func(o *orchestratorOptions) { o.gate = g }
}

// WithTrustStore sets the store that receives step outcomes and feeds the
// approval gate and delegation scorer.
func WithTrustStore(s trust.Store) Option {
	return func(o *orchestratorOptions) { o.trustStore = s }
}

// WithGrants sets the approval grants.
func WithGrants(g *trust.Grants) Option {
	return func(o *orchestratorOptions) { o.grants = g }
}

// WithVerifier sets the verification loop.
func WithVerifier(v *verification.Loop) Option {
	return func(o *orchestratorOptions) { o.verifier = v }
}

// WithPolicies builds a verification loop over the registry using the
// default coordinator.
func WithPolicies(r *verification.Registry) Option {
	return func(o *orchestratorOptions) { o.policies = r }
}

// WithEmitter sets a shared event emitter. The caller closes it.
func WithEmitter(e *EventEmitter) Option {
	return func(o *orchestratorOptions) { o.emitter = e }
}

// WithSinks adds event sinks to the orchestrator's own emitter.
func WithSinks(sinks ...EventSink) Option {
	return func(o *orchestratorOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithOutcomeRecorder sets where finished executions are recorded.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(o *orchestratorOptions) { o.outcomes = r }
}

// WithTemplateSource sets where workflow templates are looked up.
func WithTemplateSource(t TemplateSource) Option {
	return func(o *orchestratorOptions) { o.templates = t }
}

// WithCandidates sets the executors steps are delegated to.
func WithCandidates(c ...delegation.Candidate) Option {
	return func(o *orchestratorOptions) { o.candidates = append(o.candidates, c...) }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *orchestratorOptions) { o.tracerProvider = tp }
}
