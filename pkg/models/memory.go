package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultMemoryBudget is the byte budget of one working-memory entry,
// roughly 200 tokens at four bytes per token.
const DefaultMemoryBudget = 800

// maxFactValueLen bounds a single rendered fact value.
const maxFactValueLen = 160

// WorkingMemoryEntry is the compact, immutable summary of one step outcome.
// Entries are concatenated as context for later steps in the same plan.
type WorkingMemoryEntry struct {
	StepNumber     int            `json:"step_number"`
	CapabilityID   string         `json:"capability_id"`
	Status         StepStatus     `json:"status"`
	Summary        string         `json:"summary"`
	Artifacts      []string       `json:"artifacts,omitempty"`
	ExtractedFacts map[string]any `json:"extracted_facts,omitempty"`
	NextStepHints  []string       `json:"next_step_hints,omitempty"`
	// Escalated is set when verification failed after one retry.
	Escalated bool      `json:"escalated,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Size returns the approximate rendered size of the entry in bytes.
func (e *WorkingMemoryEntry) Size() int {
	n := len(e.Summary)
	for _, a := range e.Artifacts {
		n += len(a)
	}
	for k, v := range e.ExtractedFacts {
		n += len(k) + len(renderFact(v))
	}
	for _, h := range e.NextStepHints {
		n += len(h)
	}
	return n
}

// Compact trims the entry in place until it fits within budget bytes.
// The summary is cut to two sentences and at most half the budget; then
// hints are dropped from the end, then facts in reverse key order.
// Artifacts are opaque references and are never dropped.
func (e *WorkingMemoryEntry) Compact(budget int) {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}

	e.Summary = truncate(firstSentences(e.Summary, 2), budget/2)

	for k, v := range e.ExtractedFacts {
		if s, ok := v.(string); ok && len(s) > maxFactValueLen {
			e.ExtractedFacts[k] = truncate(s, maxFactValueLen)
		}
	}

	for e.Size() > budget && len(e.NextStepHints) > 0 {
		e.NextStepHints = e.NextStepHints[:len(e.NextStepHints)-1]
	}

	if e.Size() > budget && len(e.ExtractedFacts) > 0 {
		keys := make([]string, 0, len(e.ExtractedFacts))
		for k := range e.ExtractedFacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i := len(keys) - 1; i >= 0 && e.Size() > budget; i-- {
			delete(e.ExtractedFacts, keys[i])
		}
	}
}

// ContextLine renders the entry as one line of invocation context.
func (e *WorkingMemoryEntry) ContextLine() string {
	return fmt.Sprintf("Step %d (%s, %s): %s", e.StepNumber, e.CapabilityID, e.Status, e.Summary)
}

func renderFact(v any) string {
	return fmt.Sprintf("%v", v)
}

func firstSentences(s string, n int) string {
	s = strings.TrimSpace(s)
	count := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(s) || s[i+1] == ' ' || s[i+1] == '\n' {
				count++
				if count == n {
					return s[:i+1]
				}
			}
		}
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	cut := max - 3
	// Avoid splitting a UTF-8 sequence.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
