package learning

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// TemplateKey returns the lookup key for a set of capability ids:
// the sorted, de-duplicated ids joined by commas.
func TemplateKey(capabilityIDs []string) string {
	set := make(map[string]struct{}, len(capabilityIDs))
	for _, id := range capabilityIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// FindTemplate returns the template for the given capability set.
// Returns nil, nil if none is stored.
func (s *OutcomeStore) FindTemplate(capabilityIDs []string) (*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT template_key, capability_ids, steps, layers, source_plan_id, use_count, created_at
		FROM workflow_templates WHERE template_key = ?
	`, TemplateKey(capabilityIDs))

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}
	return t, nil
}

// MarkTemplateUsed increments a template's use count.
func (s *OutcomeStore) MarkTemplateUsed(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE workflow_templates SET use_count = use_count + 1 WHERE template_key = ?`, key); err != nil {
		return fmt.Errorf("mark template used: %w", err)
	}
	return nil
}

// ListTemplates returns every stored template, most used first.
func (s *OutcomeStore) ListTemplates() ([]*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT template_key, capability_ids, steps, layers, source_plan_id, use_count, created_at
		FROM workflow_templates ORDER BY use_count DESC, template_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	var ids, steps, layers, createdAt string
	if err := row.Scan(&t.Key, &ids, &steps, &layers, &t.SourcePlanID, &t.UseCount, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &t.CapabilityIDs); err != nil {
		return nil, fmt.Errorf("decode template ids: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("decode template steps: %w", err)
	}
	if err := json.Unmarshal([]byte(layers), &t.Layers); err != nil {
		return nil, fmt.Errorf("decode template layers: %w", err)
	}
	t.CreatedAt, _ = parseTime(createdAt)
	return &t, nil
}
