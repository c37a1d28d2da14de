package learning

// Migrate creates the necessary tables and indexes if they don't exist.
func (s *OutcomeStore) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS outcome_schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM outcome_schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Outcomes},
		{2, migrationV2Templates},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return err
		}

		if _, err := tx.Exec("INSERT INTO outcome_schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

const migrationV1Outcomes = `
CREATE TABLE IF NOT EXISTS capability_outcomes (
	capability_id TEXT PRIMARY KEY,
	successes INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	last_used_at DATETIME
);

CREATE TABLE IF NOT EXISTS plan_outcomes (
	plan_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	steps_completed INTEGER NOT NULL,
	steps_failed INTEGER NOT NULL,
	steps_skipped INTEGER NOT NULL,
	total_execution_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
`

const migrationV2Templates = `
CREATE TABLE IF NOT EXISTS workflow_templates (
	template_key TEXT PRIMARY KEY,
	capability_ids TEXT NOT NULL,
	steps TEXT NOT NULL,
	layers TEXT NOT NULL,
	source_plan_id TEXT NOT NULL,
	use_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`
