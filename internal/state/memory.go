package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// AppendWorkingMemory stores the entry for (planID, entry.StepNumber).
// Entries are immutable: a second write for the same step is ignored, so
// retried writes never duplicate rows.
func (db *DB) AppendWorkingMemory(planID string, e *models.WorkingMemoryEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO working_memory (plan_id, step_number, capability_id, status, summary,
			artifacts, extracted_facts, next_step_hints, escalated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, step_number) DO NOTHING
	`, planID, e.StepNumber, e.CapabilityID, string(e.Status), e.Summary,
		marshalJSON(e.Artifacts, "[]"), marshalJSON(e.ExtractedFacts, "{}"), marshalJSON(e.NextStepHints, "[]"),
		boolToInt(e.Escalated), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("append working memory for step %d: %w", e.StepNumber, err)
	}
	return nil
}

// ListWorkingMemory returns a plan's entries ordered by step number.
func (db *DB) ListWorkingMemory(planID string) ([]models.WorkingMemoryEntry, error) {
	rows, err := db.Query(`
		SELECT step_number, capability_id, status, summary, artifacts, extracted_facts,
			next_step_hints, escalated, created_at
		FROM working_memory WHERE plan_id = ? ORDER BY step_number
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list working memory: %w", err)
	}
	defer rows.Close()

	var entries []models.WorkingMemoryEntry
	for rows.Next() {
		var e models.WorkingMemoryEntry
		var artifacts, facts, hints, createdAt string
		var escalated int
		if err := rows.Scan(&e.StepNumber, &e.CapabilityID, &e.Status, &e.Summary,
			&artifacts, &facts, &hints, &escalated, &createdAt); err != nil {
			return nil, fmt.Errorf("scan working memory: %w", err)
		}
		_ = json.Unmarshal([]byte(artifacts), &e.Artifacts)
		_ = json.Unmarshal([]byte(facts), &e.ExtractedFacts)
		_ = json.Unmarshal([]byte(hints), &e.NextStepHints)
		e.Escalated = escalated != 0
		e.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountWorkingMemory returns the number of entries stored for a plan.
func (db *DB) CountWorkingMemory(planID string) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM working_memory WHERE plan_id = ?", planID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count working memory: %w", err)
	}
	return n, nil
}
