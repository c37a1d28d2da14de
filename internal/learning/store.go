// Package learning records post-run outcomes: per-capability success tallies
// and reusable workflow templates derived from fully successful plans.
package learning

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CapabilityTally is the global success/failure count for one capability.
type CapabilityTally struct {
	CapabilityID string
	Successes    int64
	Failures     int64
	LastUsedAt   time.Time
}

// SuccessRate returns successes / total, or 0 without history.
func (t CapabilityTally) SuccessRate() float64 {
	total := t.Successes + t.Failures
	if total == 0 {
		return 0
	}
	return float64(t.Successes) / float64(total)
}

// OutcomeStore provides SQLite-backed storage for outcomes and templates.
type OutcomeStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// WorkspaceDBPath returns the path to the workspace-local outcomes database.
func WorkspaceDBPath(workspace string) string {
	return filepath.Join(workspace, ".stepwise", "outcomes.db")
}

// NewOutcomeStore opens the outcomes database at dbPath.
// It creates the parent directories if they don't exist.
func NewOutcomeStore(dbPath string) (*OutcomeStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &OutcomeStore{db: conn, dbPath: dbPath}, nil
}

// Path returns the database path.
func (s *OutcomeStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *OutcomeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// GetTally returns the tally for a capability; a missing capability has zero history.
func (s *OutcomeStore) GetTally(capabilityID string) (CapabilityTally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := CapabilityTally{CapabilityID: capabilityID}
	var lastUsed sql.NullString
	err := s.db.QueryRow(`
		SELECT successes, failures, last_used_at FROM capability_outcomes WHERE capability_id = ?
	`, capabilityID).Scan(&t.Successes, &t.Failures, &lastUsed)
	if err == sql.ErrNoRows {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("get tally: %w", err)
	}
	if lastUsed.Valid {
		t.LastUsedAt, _ = parseTime(lastUsed.String)
	}
	return t, nil
}

// ListTallies returns every capability tally ordered by capability id.
func (s *OutcomeStore) ListTallies() ([]CapabilityTally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT capability_id, successes, failures, last_used_at FROM capability_outcomes ORDER BY capability_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tallies: %w", err)
	}
	defer rows.Close()

	var out []CapabilityTally
	for rows.Next() {
		var t CapabilityTally
		var lastUsed sql.NullString
		if err := rows.Scan(&t.CapabilityID, &t.Successes, &t.Failures, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		if lastUsed.Valid {
			t.LastUsedAt, _ = parseTime(lastUsed.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
