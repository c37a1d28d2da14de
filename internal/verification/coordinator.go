package verification

import (
	"context"
	"sync"
)

// Decision is the coordinator's reaction to a failed verification.
type Decision int

const (
	// RetrySame re-invokes the same capability once with the issues as feedback.
	RetrySame Decision = iota
	// ReDelegate hands the step to a different executor.
	ReDelegate
	// Escalate surfaces the failure to the subject.
	Escalate
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case RetrySame:
		return "RETRY_SAME"
	case ReDelegate:
		return "RE_DELEGATE"
	case Escalate:
		return "ESCALATE"
	default:
		return "UNKNOWN"
	}
}

// DecisionInput describes a failed verification.
type DecisionInput struct {
	SubjectID string
	Category  string
	// Attempt is 1 for the original output and 2 for the retry.
	Attempt int
	Result  Result
	// HasAlternates reports whether another executor could take the step.
	HasAlternates bool
}

// Coordinator decides what to do when content fails verification.
type Coordinator interface {
	Decide(ctx context.Context, in DecisionInput) Decision
}

// DefaultConfidenceFloor is the confidence below which a failing output is
// considered too far off to fix by retrying the same executor.
const DefaultConfidenceFloor = 0.3

// DefaultCoordinator retries the first failure when the output is close
// enough, re-delegates poor outputs when an alternate exists, and escalates
// everything else.
type DefaultCoordinator struct {
	ConfidenceFloor float64

	mu        sync.Mutex
	decisions map[Decision]int
}

// NewDefaultCoordinator creates a coordinator with the given confidence floor.
// A non-positive floor uses DefaultConfidenceFloor.
func NewDefaultCoordinator(floor float64) *DefaultCoordinator {
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	return &DefaultCoordinator{ConfidenceFloor: floor, decisions: make(map[Decision]int)}
}

// Decide implements Coordinator.
func (c *DefaultCoordinator) Decide(_ context.Context, in DecisionInput) Decision {
	d := Escalate
	if in.Attempt <= 1 {
		switch {
		case in.Result.Confidence >= c.ConfidenceFloor || !in.HasAlternates:
			d = RetrySame
		default:
			d = ReDelegate
		}
	}

	c.mu.Lock()
	if c.decisions == nil {
		c.decisions = make(map[Decision]int)
	}
	c.decisions[d]++
	c.mu.Unlock()
	return d
}

// Stats returns how many times each decision was made.
func (c *DefaultCoordinator) Stats() map[Decision]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Decision]int, len(c.decisions))
	for d, n := range c.decisions {
		out[d] = n
	}
	return out
}
