package learning

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

func setupTestStore(t *testing.T) *OutcomeStore {
	t.Helper()
	s, err := NewOutcomeStore(filepath.Join(t.TempDir(), "outcomes.db"))
	if err != nil {
		t.Fatalf("NewOutcomeStore() error = %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func plan(id string) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		PlanID: id,
		Steps: []*models.Step{
			{StepNumber: 1, CapabilityID: "search", Status: models.StepCompleted, OutputData: map[string]any{"x": 1}},
			{StepNumber: 2, CapabilityID: "draft", DependsOn: []int{1}, Status: models.StepCompleted},
		},
		Layers: [][]int{{1}, {2}},
	}
}

func resultFor(p *models.ExecutionPlan, statuses ...models.StepStatus) *models.PlanResult {
	r := &models.PlanResult{PlanID: p.PlanID}
	for i, st := range statuses {
		r.WorkingMemory = append(r.WorkingMemory, models.WorkingMemoryEntry{
			StepNumber:   i + 1,
			CapabilityID: p.Steps[i].CapabilityID,
			Status:       st,
		})
	}
	r.Tally()
	return r
}

func TestTemplateKey(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"b", "a"}, "a,b"},
		{[]string{"a", "a", "c"}, "a,c"},
		{nil, ""},
		{[]string{"", "z"}, "z"},
	}
	for _, tt := range tests {
		if got := TemplateKey(tt.in); got != tt.want {
			t.Errorf("TemplateKey(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordPlanOutcome_Tallies(t *testing.T) {
	s := setupTestStore(t)
	p := plan("p1")
	p.Steps = append(p.Steps, &models.Step{StepNumber: 3, CapabilityID: "send", DependsOn: []int{2}})

	r := resultFor(p, models.StepCompleted, models.StepFailed, models.StepSkipped)
	if err := s.RecordPlanOutcome(p, r); err != nil {
		t.Fatalf("RecordPlanOutcome() error = %v", err)
	}
	if err := s.RecordPlanOutcome(p, r); err != nil {
		t.Fatalf("second RecordPlanOutcome() error = %v", err)
	}

	search, _ := s.GetTally("search")
	if search.Successes != 2 || search.Failures != 0 {
		t.Errorf("search tally = %+v", search)
	}
	draft, _ := s.GetTally("draft")
	if draft.Failures != 2 || draft.SuccessRate() != 0 {
		t.Errorf("draft tally = %+v", draft)
	}
	send, _ := s.GetTally("send")
	if send.Successes+send.Failures != 0 {
		t.Errorf("skipped step was tallied: %+v", send)
	}

	all, _ := s.ListTallies()
	if len(all) != 2 {
		t.Errorf("ListTallies() = %v", all)
	}

	// Partial plans never become templates.
	tpl, err := s.FindTemplate([]string{"search", "draft", "send"})
	if err != nil || tpl != nil {
		t.Errorf("FindTemplate() = %v, %v; want nil", tpl, err)
	}
}

func TestRecordPlanOutcome_SavesTemplate(t *testing.T) {
	s := setupTestStore(t)
	p := plan("p1")
	if err := s.RecordPlanOutcome(p, resultFor(p, models.StepCompleted, models.StepCompleted)); err != nil {
		t.Fatal(err)
	}

	tpl, err := s.FindTemplate([]string{"draft", "search"})
	if err != nil {
		t.Fatal(err)
	}
	if tpl == nil {
		t.Fatal("template not saved")
	}
	if tpl.Key != "draft,search" || tpl.SourcePlanID != "p1" {
		t.Errorf("template = %+v", tpl)
	}
	if !reflect.DeepEqual(tpl.Layers, [][]int{{1}, {2}}) {
		t.Errorf("Layers = %v", tpl.Layers)
	}
	if tpl.Steps[0].Status != models.StepPending || tpl.Steps[0].OutputData != nil {
		t.Errorf("runtime state kept in template: %+v", tpl.Steps[0])
	}

	// A later plan with the same capability set does not overwrite the source.
	p2 := plan("p2")
	if err := s.RecordPlanOutcome(p2, resultFor(p2, models.StepCompleted, models.StepCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkTemplateUsed(tpl.Key); err != nil {
		t.Fatal(err)
	}
	tpl, _ = s.FindTemplate([]string{"search", "draft"})
	if tpl.SourcePlanID != "p1" || tpl.UseCount != 1 {
		t.Errorf("template after reuse = %+v", tpl)
	}

	list, _ := s.ListTemplates()
	if len(list) != 1 {
		t.Errorf("ListTemplates() = %v", list)
	}
}

func TestRecordPlanOutcome_EscalatedPlanIsNotTemplate(t *testing.T) {
	s := setupTestStore(t)
	p := plan("p1")
	r := resultFor(p, models.StepCompleted, models.StepCompleted)
	r.Escalations = []int{2}

	if err := s.RecordPlanOutcome(p, r); err != nil {
		t.Fatal(err)
	}
	if tpl, _ := s.FindTemplate([]string{"search", "draft"}); tpl != nil {
		t.Error("escalated plan saved as template")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}
