// Package planner turns a task description into a proposed step DAG.
// Proposals are advice: the orchestrator validates, layers and risk-scores
// them independently.
package planner

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ShayCichocki/stepwise/internal/capability"
	"github.com/ShayCichocki/stepwise/pkg/models"
)

// ErrMalformedProposal indicates the oracle's response could not be read as a plan.
var ErrMalformedProposal = errors.New("malformed proposal")

// Oracle proposes a DAG of capability invocations for a task.
type Oracle interface {
	Propose(ctx context.Context, description string, capabilities []capability.Descriptor) (*Proposal, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, description string, capabilities []capability.Descriptor) (*Proposal, error)

// Propose calls f.
func (f OracleFunc) Propose(ctx context.Context, description string, capabilities []capability.Descriptor) (*Proposal, error) {
	return f(ctx, description, capabilities)
}

// ProposedStep is one step as proposed by an oracle.
type ProposedStep struct {
	StepNumber     int                `json:"step_number" yaml:"step_number"`
	CapabilityID   string             `json:"capability_id" yaml:"capability_id"`
	CapabilityPath string             `json:"capability_path,omitempty" yaml:"capability_path,omitempty"`
	DependsOn      []int              `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Sensitivity    models.Sensitivity `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	Input          map[string]any     `json:"input,omitempty" yaml:"input,omitempty"`
}

// Proposal is an oracle's suggested plan.
type Proposal struct {
	Reasoning           string           `json:"reasoning" yaml:"reasoning"`
	Steps               []ProposedStep   `json:"steps" yaml:"steps"`
	Layers              [][]int          `json:"layers,omitempty" yaml:"layers,omitempty"`
	EstimatedDurationMs int64            `json:"estimated_duration_ms,omitempty" yaml:"estimated_duration_ms,omitempty"`
	RiskLevel           models.RiskLevel `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	// ApprovalRequired overrides the risk-derived approval flag when set.
	ApprovalRequired *bool `json:"approval_required,omitempty" yaml:"approval_required,omitempty"`
}

// ToSteps converts the proposal into pending plan steps. Steps without a
// number are numbered by position.
func (p *Proposal) ToSteps() []*models.Step {
	steps := make([]*models.Step, len(p.Steps))
	for i, ps := range p.Steps {
		n := ps.StepNumber
		if n == 0 {
			n = i + 1
		}
		steps[i] = &models.Step{
			StepNumber:     n,
			CapabilityID:   ps.CapabilityID,
			CapabilityPath: ps.CapabilityPath,
			DependsOn:      append([]int(nil), ps.DependsOn...),
			Status:         models.StepPending,
			Sensitivity:    ps.Sensitivity,
			InputData:      ps.Input,
		}
	}
	return steps
}

// StaticOracle returns the same proposal for every task. It counts calls.
type StaticOracle struct {
	Proposal *Proposal
	Err      error

	calls atomic.Int32
}

// Propose implements Oracle.
func (s *StaticOracle) Propose(context.Context, string, []capability.Descriptor) (*Proposal, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Proposal, nil
}

// Calls returns how many times Propose was called.
func (s *StaticOracle) Calls() int {
	return int(s.calls.Load())
}
