package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// RecordOutcome increments the success or failure counter for a
// (subject, capability) pair in a single statement, so concurrent writers
// never lose updates.
func (db *DB) RecordOutcome(_ context.Context, subjectID, capabilityID string, success bool) error {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}

	_, err := db.Exec(`
		INSERT INTO trust_records (subject_id, capability_id, successes, failures, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, capability_id) DO UPDATE SET
			successes = successes + excluded.successes,
			failures = failures + excluded.failures,
			updated_at = excluded.updated_at
	`, subjectID, capabilityID, succ, fail, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// GetTrustRecord returns the counters for a pair; a missing pair has zero history.
func (db *DB) GetTrustRecord(_ context.Context, subjectID, capabilityID string) (models.TrustRecord, error) {
	rec := models.TrustRecord{SubjectID: subjectID, CapabilityID: capabilityID}

	err := db.QueryRow(`
		SELECT successes, failures FROM trust_records WHERE subject_id = ? AND capability_id = ?
	`, subjectID, capabilityID).Scan(&rec.Successes, &rec.Failures)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("get trust record: %w", err)
	}
	return rec, nil
}

// ListTrustRecords returns every record for a subject, ordered by capability.
func (db *DB) ListTrustRecords(subjectID string) ([]models.TrustRecord, error) {
	rows, err := db.Query(`
		SELECT subject_id, capability_id, successes, failures
		FROM trust_records WHERE subject_id = ? ORDER BY capability_id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list trust records: %w", err)
	}
	defer rows.Close()

	var out []models.TrustRecord
	for rows.Next() {
		var r models.TrustRecord
		if err := rows.Scan(&r.SubjectID, &r.CapabilityID, &r.Successes, &r.Failures); err != nil {
			return nil, fmt.Errorf("scan trust record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
