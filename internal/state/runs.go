package state

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// CreateRun inserts a new goal run.
func (db *DB) CreateRun(r *models.GoalRun) error {
	_, err := db.Exec(`
		INSERT INTO goal_runs (id, plan_id, subject_id, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.RunID, r.PlanID, r.SubjectID, string(r.Status), nullString(r.Error),
		formatTime(r.StartedAt), nullableTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun updates the status, error and finish time of a run.
func (db *DB) UpdateRun(r *models.GoalRun) error {
	_, err := db.Exec(`
		UPDATE goal_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, string(r.Status), nullString(r.Error), nullableTime(r.FinishedAt), r.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil, nil if not found.
func (db *DB) GetRun(id string) (*models.GoalRun, error) {
	row := db.QueryRow(`
		SELECT id, plan_id, subject_id, status, error, started_at, finished_at
		FROM goal_runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns lists runs newest first, optionally filtered by status.
func (db *DB) ListRuns(status *models.RunStatus) ([]*models.GoalRun, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, plan_id, subject_id, status, error, started_at, finished_at
			FROM goal_runs WHERE status = ? ORDER BY started_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, plan_id, subject_id, status, error, started_at, finished_at
			FROM goal_runs ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.GoalRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*models.GoalRun, error) {
	var r models.GoalRun
	var errText, finishedAt sql.NullString
	var startedAt string
	if err := row.Scan(&r.RunID, &r.PlanID, &r.SubjectID, &r.Status, &errText, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	r.Error = errText.String
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}
