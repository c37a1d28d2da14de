package delegation

import (
	"context"
	"testing"

	"github.com/ShayCichocki/stepwise/internal/trust"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

func step(n int, id, path string) *models.Step {
	return &models.Step{StepNumber: n, CapabilityID: id, CapabilityPath: path}
}

func TestScore(t *testing.T) {
	ctx := context.Background()
	store := trust.NewMemoryStore()
	for i := 0; i < 3; i++ {
		store.RecordOutcome(ctx, "veteran", "search_competitors", true)
	}
	store.RecordOutcome(ctx, "veteran", "search_competitors", false)

	s := NewScorer(store)
	st := step(1, "search_competitors", "research/search_competitors")

	tests := []struct {
		name string
		c    Candidate
		want float64
	}{
		{"exact name", Candidate{ID: "a", Capabilities: []string{"search_competitors"}}, 50},
		{"exact path case-insensitive", Candidate{ID: "a", Capabilities: []string{"Research/Search_Competitors"}}, 50},
		{"partial keyword", Candidate{ID: "a", Capabilities: []string{"web.search"}}, 25},
		{"no match", Candidate{ID: "a", Capabilities: []string{"draft_message"}}, 0},
		{"history only", Candidate{ID: "veteran"}, 22.5},
		{"exact plus history", Candidate{ID: "veteran", Capabilities: []string{"search_competitors"}}, 72.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(ctx, st, tt.c); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectExecutor(t *testing.T) {
	ctx := context.Background()
	s := NewScorer(nil)
	st := step(1, "draft_message", "outreach/draft_message")

	if got := s.SelectExecutor(ctx, st, nil); got != DefaultExecutorID {
		t.Errorf("empty candidates = %q, want %q", got, DefaultExecutorID)
	}
	if got := NewScorer(nil, WithDefaultExecutor("fallback")).SelectExecutor(ctx, st, nil); got != "fallback" {
		t.Errorf("custom default = %q", got)
	}

	candidates := []Candidate{
		{ID: "generic", Capabilities: []string{"message"}},
		{ID: "writer", Capabilities: []string{"draft_message"}},
		{ID: "writer2", Capabilities: []string{"draft_message"}},
	}
	if got := s.SelectExecutor(ctx, st, candidates); got != "writer" {
		t.Errorf("SelectExecutor() = %q, want writer (tie goes to the first)", got)
	}

	tied := []Candidate{{ID: "x"}, {ID: "y"}}
	if got := s.SelectExecutor(ctx, st, tied); got != "x" {
		t.Errorf("all-zero tie = %q, want x", got)
	}
}

func TestAssignBatch_WorkloadPenalty(t *testing.T) {
	ctx := context.Background()
	candidates := []Candidate{
		{ID: "specialist", Capabilities: []string{"search"}},
		{ID: "helper", Capabilities: []string{"web_search"}},
	}
	steps := []*models.Step{
		step(1, "search", ""),
		step(2, "search", ""),
		step(3, "search", ""),
	}

	// Specialist scores 50, helper 25. With a penalty of 15 the specialist
	// takes two steps (50, 35) before the helper wins the third (25 > 20).
	s := NewScorer(nil, WithWorkloadPenalty(15))
	got := s.AssignBatch(ctx, steps, candidates)
	want := map[int]string{1: "specialist", 2: "specialist", 3: "helper"}
	for n, id := range want {
		if got[n] != id {
			t.Errorf("step %d -> %q, want %q", n, got[n], id)
		}
	}
	if steps[2].AssignedExecutorID != "helper" {
		t.Errorf("AssignedExecutorID = %q", steps[2].AssignedExecutorID)
	}

	// Without a penalty all steps go to the best candidate.
	got = NewScorer(nil, WithWorkloadPenalty(0)).AssignBatch(ctx, steps, candidates)
	for n, id := range got {
		if id != "specialist" {
			t.Errorf("no penalty: step %d -> %q", n, id)
		}
	}

	got = s.AssignBatch(ctx, steps, nil)
	if got[1] != DefaultExecutorID {
		t.Errorf("no candidates -> %q", got[1])
	}
}
