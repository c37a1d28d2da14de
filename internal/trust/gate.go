package trust

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Gate decides whether a step must be approved before it runs.
type Gate interface {
	ShouldRequireApproval(ctx context.Context, subjectID, capabilityID string, risk models.RiskLevel) bool
}

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, subjectID, capabilityID string, risk models.RiskLevel) bool

// ShouldRequireApproval calls f.
func (f GateFunc) ShouldRequireApproval(ctx context.Context, subjectID, capabilityID string, risk models.RiskLevel) bool {
	return f(ctx, subjectID, capabilityID, risk)
}

// NeverRequire is a Gate that approves everything.
var NeverRequire Gate = GateFunc(func(context.Context, string, string, models.RiskLevel) bool { return false })

// Describer looks up capability metadata.
type Describer interface {
	Describe(id string) (capability.Descriptor, bool)
}

// PolicyGate gates by capability tier, plan risk and trust history.
//
//   - trusted capabilities never need approval
//   - supervised capabilities always need approval
//   - low risk never needs approval
//   - critical risk always needs approval
//   - otherwise approval is needed until the subject has MinSuccesses
//     recorded successes at a rate of at least MinRate
type PolicyGate struct {
	Store        Store
	Capabilities Describer
	MinSuccesses int64
	MinRate      float64
}

// NewPolicyGate creates a gate with the given trust thresholds.
func NewPolicyGate(store Store, caps Describer, minSuccesses int64, minRate float64) *PolicyGate {
	return &PolicyGate{Store: store, Capabilities: caps, MinSuccesses: minSuccesses, MinRate: minRate}
}

// ShouldRequireApproval implements Gate.
func (g *PolicyGate) ShouldRequireApproval(ctx context.Context, subjectID, capabilityID string, risk models.RiskLevel) bool {
	tier := capability.TierStandard
	if g.Capabilities != nil {
		if desc, ok := g.Capabilities.Describe(capabilityID); ok {
			tier = desc.Tier
		}
	}

	switch {
	case tier == capability.TierTrusted:
		return false
	case tier == capability.TierSupervised:
		return true
	case risk == models.RiskLow || risk == "":
		return false
	case risk == models.RiskCritical:
		return true
	}

	if g.Store == nil {
		return true
	}
	rec, err := g.Store.GetTrustRecord(ctx, subjectID, capabilityID)
	if err != nil {
		log.Printf("[trust] WARNING: read trust record %s/%s: %v", subjectID, capabilityID, err)
		return true
	}
	rate, ok := rec.SuccessRate()
	if !ok {
		return true
	}
	return rec.Successes < g.MinSuccesses || rate < g.MinRate
}

// Approval is a grant to run one step of a plan.
type Approval struct {
	PlanID     string
	StepNumber int
	ApprovedAt time.Time
	// ApprovedBy indicates who granted approval ("user" or "auto").
	ApprovedBy string
}

// Grants tracks per-step approvals so a gated step runs once approved.
// StepNumber 0 grants every step of the plan.
type Grants struct {
	mu        sync.RWMutex
	approvals map[string]*Approval
}

// NewGrants creates an empty grant set.
func NewGrants() *Grants {
	return &Grants{approvals: make(map[string]*Approval)}
}

func grantKey(planID string, step int) string {
	return fmt.Sprintf("%s#%d", planID, step)
}

// Grant approves one step.
func (g *Grants) Grant(planID string, step int, by string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.approvals[grantKey(planID, step)] = &Approval{
		PlanID:     planID,
		StepNumber: step,
		ApprovedAt: time.Now(),
		ApprovedBy: by,
	}
}

// GrantAll approves every step of a plan.
func (g *Grants) GrantAll(planID string, by string) {
	g.Grant(planID, 0, by)
}

// Revoke removes a step grant.
func (g *Grants) Revoke(planID string, step int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.approvals, grantKey(planID, step))
}

// IsGranted reports whether the step, or the whole plan, has been approved.
func (g *Grants) IsGranted(planID string, step int) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.approvals[grantKey(planID, 0)]; ok {
		return true
	}
	_, ok := g.approvals[grantKey(planID, step)]
	return ok
}

// Get returns the grant for a step, if any.
func (g *Grants) Get(planID string, step int) *Approval {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.approvals[grantKey(planID, step)]
}
