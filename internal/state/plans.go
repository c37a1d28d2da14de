package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

const planColumns = `id, subject_id, task_description, layers, estimated_duration_ms, risk_level,
	approval_required, reasoning_trace, parent_plan_id, status, actual_duration_ms,
	steps_failed, steps_skipped, created_at, updated_at`

const stepColumns = `step_number, capability_id, capability_path, depends_on, status, sensitivity,
	input_data, output_data, started_at, completed_at, assigned_executor_id`

// SavePlan inserts or replaces a plan and all of its steps in one transaction.
func (db *DB) SavePlan(p *models.ExecutionPlan) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO plans (`+planColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				subject_id = excluded.subject_id,
				task_description = excluded.task_description,
				layers = excluded.layers,
				estimated_duration_ms = excluded.estimated_duration_ms,
				risk_level = excluded.risk_level,
				approval_required = excluded.approval_required,
				reasoning_trace = excluded.reasoning_trace,
				parent_plan_id = excluded.parent_plan_id,
				status = excluded.status,
				actual_duration_ms = excluded.actual_duration_ms,
				steps_failed = excluded.steps_failed,
				steps_skipped = excluded.steps_skipped,
				updated_at = excluded.updated_at
		`, p.PlanID, p.SubjectID, p.TaskDescription, marshalJSON(p.Layers, "[]"), p.EstimatedDurationMs,
			string(p.RiskLevel), boolToInt(p.ApprovalRequired), p.ReasoningTrace, nullString(p.ParentPlanID),
			string(p.Status), nullInt(p.ActualDurationMs), p.StepsFailed, p.StepsSkipped,
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("save plan: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM steps WHERE plan_id = ?", p.PlanID); err != nil {
			return fmt.Errorf("clear plan steps: %w", err)
		}
		for _, s := range p.Steps {
			if err := saveStep(tx, p.PlanID, s); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveStep inserts or replaces one step row.
func (db *DB) SaveStep(planID string, s *models.Step) error {
	return db.Transaction(func(tx *sql.Tx) error {
		return saveStep(tx, planID, s)
	})
}

func saveStep(tx *sql.Tx, planID string, s *models.Step) error {
	status := s.Status
	if status == "" {
		status = models.StepPending
	}
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO steps (plan_id, `+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, planID, s.StepNumber, s.CapabilityID, s.CapabilityPath, marshalJSON(s.DependsOn, "[]"), string(status),
		nullString(string(s.Sensitivity)), marshalJSON(s.InputData, "{}"), nullJSON(s.OutputData),
		nullableTime(s.StartedAt), nullableTime(s.CompletedAt), nullString(s.AssignedExecutorID))
	if err != nil {
		return fmt.Errorf("save step %d: %w", s.StepNumber, err)
	}
	return nil
}

// UpdatePlanStatus sets the plan status and, when given, the actual duration
// and failure counts.
func (db *DB) UpdatePlanStatus(planID string, status models.PlanStatus, actualDurationMs *int64, stepsFailed, stepsSkipped int) error {
	var dur any
	if actualDurationMs != nil {
		dur = *actualDurationMs
	}
	res, err := db.Exec(`
		UPDATE plans
		SET status = ?, actual_duration_ms = COALESCE(?, actual_duration_ms),
		    steps_failed = ?, steps_skipped = ?, updated_at = ?
		WHERE id = ?
	`, string(status), dur, stepsFailed, stepsSkipped, formatTime(time.Now()), planID)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update plan status: %w", ErrNotFound)
	}
	return nil
}

// GetPlan retrieves a plan with its steps. Returns nil, nil if not found.
func (db *DB) GetPlan(id string) (*models.ExecutionPlan, error) {
	row := db.QueryRow(`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	steps, err := db.listSteps(id)
	if err != nil {
		return nil, err
	}
	p.Steps = steps
	return p, nil
}

// ListPlans lists plans newest first, optionally filtered by status.
// Steps are not loaded. A limit of zero returns every plan.
func (db *DB) ListPlans(status *models.PlanStatus, limit int) ([]*models.ExecutionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.ExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ListChildPlans returns plans that extend the given plan.
func (db *DB) ListChildPlans(parentID string) ([]*models.ExecutionPlan, error) {
	rows, err := db.Query(`SELECT `+planColumns+` FROM plans WHERE parent_plan_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.ExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (db *DB) listSteps(planID string) ([]*models.Step, error) {
	rows, err := db.Query(`SELECT `+stepColumns+` FROM steps WHERE plan_id = ? ORDER BY step_number`, planID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var s models.Step
		var path, sensitivity, input, output, startedAt, completedAt, executor sql.NullString
		var deps string
		if err := rows.Scan(&s.StepNumber, &s.CapabilityID, &path, &deps, &s.Status, &sensitivity,
			&input, &output, &startedAt, &completedAt, &executor); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.CapabilityPath = path.String
		s.Sensitivity = models.Sensitivity(sensitivity.String)
		s.AssignedExecutorID = executor.String
		_ = json.Unmarshal([]byte(deps), &s.DependsOn)
		if input.Valid {
			_ = json.Unmarshal([]byte(input.String), &s.InputData)
		}
		if output.Valid {
			_ = json.Unmarshal([]byte(output.String), &s.OutputData)
		}
		s.StartedAt = parseNullableTime(startedAt)
		s.CompletedAt = parseNullableTime(completedAt)
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*models.ExecutionPlan, error) {
	var p models.ExecutionPlan
	var layers, createdAt, updatedAt string
	var trace, parent sql.NullString
	var actual sql.NullInt64
	var approval int

	err := row.Scan(&p.PlanID, &p.SubjectID, &p.TaskDescription, &layers, &p.EstimatedDurationMs, &p.RiskLevel,
		&approval, &trace, &parent, &p.Status, &actual, &p.StepsFailed, &p.StepsSkipped, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(layers), &p.Layers)
	p.ApprovalRequired = approval != 0
	p.ReasoningTrace = trace.String
	p.ParentPlanID = parent.String
	p.ActualDurationMs = actual.Int64
	p.CreatedAt, _ = parseTime(createdAt)
	p.UpdatedAt, _ = parseTime(updatedAt)
	return &p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullJSON(m map[string]any) any {
	if m == nil {
		return nil
	}
	return marshalJSON(m, "{}")
}
