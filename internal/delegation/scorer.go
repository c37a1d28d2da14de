// Package delegation picks which executor runs a step when several are eligible.
package delegation

import (
	"context"
	"log"
	"strings"
	"unicode"

	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// DefaultExecutorID is returned when there are no candidates.
const DefaultExecutorID = "default"

// Score weights, on a 0-100 scale.
const (
	ExactMatchScore   = 50.0
	PartialMatchScore = 25.0
	MaxHistoryScore   = 30.0
)

// DefaultWorkloadPenalty is the points subtracted per step already assigned
// to a candidate within the current batch.
const DefaultWorkloadPenalty = 10.0

// Candidate is an executor that may run a step.
type Candidate struct {
	ID string
	// Capabilities lists the capability paths or names the executor is
	// authorized for.
	Capabilities []string
}

// Scorer ranks candidates for steps. Trust history is read per
// (candidate, capability).
type Scorer struct {
	trust           trust.Store
	workloadPenalty float64
	defaultExecutor string
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWorkloadPenalty sets the per-assigned-step penalty used by AssignBatch.
func WithWorkloadPenalty(p float64) Option {
	return func(s *Scorer) {
		if p >= 0 {
			s.workloadPenalty = p
		}
	}
}

// WithDefaultExecutor sets the id returned when no candidate exists.
func WithDefaultExecutor(id string) Option {
	return func(s *Scorer) {
		if id != "" {
			s.defaultExecutor = id
		}
	}
}

// NewScorer creates a scorer. A nil store scores without history.
func NewScorer(store trust.Store, opts ...Option) *Scorer {
	s := &Scorer{
		trust:           store,
		workloadPenalty: DefaultWorkloadPenalty,
		defaultExecutor: DefaultExecutorID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns the candidate's score for the step, ignoring workload.
func (s *Scorer) Score(ctx context.Context, step *models.Step, c Candidate) float64 {
	return matchScore(step, c.Capabilities) + s.historyScore(ctx, step, c)
}

// SelectExecutor returns the highest-scoring candidate's id. Ties go to the
// earlier candidate.
func (s *Scorer) SelectExecutor(ctx context.Context, step *models.Step, candidates []Candidate) string {
	if len(candidates) == 0 {
		return s.defaultExecutor
	}
	best, bestScore := 0, s.Score(ctx, step, candidates[0])
	for i := 1; i < len(candidates); i++ {
		if sc := s.Score(ctx, step, candidates[i]); sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return candidates[best].ID
}

// AssignBatch assigns an executor to every step in order, penalizing
// candidates by the number of steps they already hold in this batch.
// It sets AssignedExecutorID on each step and returns step number -> executor.
func (s *Scorer) AssignBatch(ctx context.Context, steps []*models.Step, candidates []Candidate) map[int]string {
	out := make(map[int]string, len(steps))
	load := make(map[string]int, len(candidates))

	for _, st := range steps {
		id := s.defaultExecutor
		if len(candidates) > 0 {
			best, bestScore := -1, 0.0
			for i, c := range candidates {
				sc := s.Score(ctx, st, c) - s.workloadPenalty*float64(load[c.ID])
				if best < 0 || sc > bestScore {
					best, bestScore = i, sc
				}
			}
			id = candidates[best].ID
		}
		load[id]++
		st.AssignedExecutorID = id
		out[st.StepNumber] = id
	}
	return out
}

func (s *Scorer) historyScore(ctx context.Context, step *models.Step, c Candidate) float64 {
	if s.trust == nil {
		return 0
	}
	rec, err := s.trust.GetTrustRecord(ctx, c.ID, step.CapabilityID)
	if err != nil {
		log.Printf("[delegation] trust lookup for %s/%s failed: %v", c.ID, step.CapabilityID, err)
		return 0
	}
	rate, ok := rec.SuccessRate()
	if !ok {
		return 0
	}
	return MaxHistoryScore * rate
}

// matchScore compares the step's capability against the declared list.
func matchScore(step *models.Step, declared []string) float64 {
	path := strings.ToLower(step.CapabilityPath)
	name := strings.ToLower(step.CapabilityID)
	for _, d := range declared {
		d = strings.ToLower(d)
		if d == "" {
			continue
		}
		if d == path || d == name {
			return ExactMatchScore
		}
	}

	want := keywords(step.CapabilityPath, step.CapabilityID)
	for _, d := range declared {
		for kw := range keywords(d) {
			if _, ok := want[kw]; ok {
				return PartialMatchScore
			}
		}
	}
	return 0
}

// keywords splits identifiers such as "research.competitors" or
// "draft_message" into lowercase words of two or more characters.
func keywords(ss ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range ss {
		fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, f := range fields {
			if len(f) > 1 {
				out[f] = struct{}{}
			}
		}
	}
	return out
}
