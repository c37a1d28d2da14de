// Package capability defines the uniform interface for invocable units of work
// and the registry that maps capability ids to implementations and metadata.
package capability

import (
	"context"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Result is the outcome of one capability invocation.
type Result struct {
	// Output is the capability's structured result.
	Output map[string]any
	// Summary is an optional one or two sentence description of the result.
	Summary string
	// Artifacts are opaque references produced by the invocation.
	Artifacts []string
	// Hints are suggestions for subsequent steps.
	Hints []string
	// ExecutionTime is how long the invocation took.
	ExecutionTime time.Duration
}

// InvocationContext carries what a capability may see beyond its input.
type InvocationContext struct {
	PlanID     string
	StepNumber int
	SubjectID  string
	// Prior is the concatenation of earlier working-memory summaries.
	Prior string
	// Feedback carries verification issues and suggestions on a retry.
	Feedback []string
	// Attempt is 1 for the first invocation and 2 for a retry.
	Attempt int
}

// Capability is an opaque unit of work invoked through a uniform interface.
type Capability interface {
	Invoke(ctx context.Context, input map[string]any, ictx InvocationContext) (*Result, error)
}

// Func adapts a plain function to the Capability interface.
type Func func(ctx context.Context, input map[string]any, ictx InvocationContext) (*Result, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, input map[string]any, ictx InvocationContext) (*Result, error) {
	return f(ctx, input, ictx)
}

// TrustTier ranks how much autonomy a capability is granted by default.
type TrustTier int

const (
	// TierSupervised capabilities always go through the approval gate.
	TierSupervised TrustTier = iota
	// TierStandard capabilities are gated by risk and trust history.
	TierStandard
	// TierTrusted capabilities never require approval.
	TierTrusted
)

// String returns the tier name.
func (t TrustTier) String() string {
	switch t {
	case TierSupervised:
		return "supervised"
	case TierStandard:
		return "standard"
	case TierTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// ParseTrustTier converts a name into a TrustTier, defaulting to standard.
func ParseTrustTier(s string) TrustTier {
	switch s {
	case "supervised":
		return TierSupervised
	case "trusted":
		return TierTrusted
	default:
		return TierStandard
	}
}

// Descriptor is the registry metadata for one capability.
type Descriptor struct {
	ID string `json:"id" yaml:"id"`
	// Path is a human-readable reference, e.g. "research/search_competitors".
	Path string `json:"path" yaml:"path"`
	// Name is the short display name.
	Name string `json:"name" yaml:"name"`
	// Description tells the planning oracle what the capability does.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Category selects the verification policy.
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	// Permissions are the declared permissions the capability needs.
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	// Tier is the default trust tier.
	Tier TrustTier `json:"tier" yaml:"tier"`
	// EstimatedCostMs is the expected invocation time.
	EstimatedCostMs int64 `json:"estimated_cost_ms,omitempty" yaml:"estimated_cost_ms,omitempty"`
	// Sensitivity is the data class the capability touches by default.
	Sensitivity models.Sensitivity `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
}
