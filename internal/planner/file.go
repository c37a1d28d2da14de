package planner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/stepwise/internal/capability"
)

// FileOracle reads proposals from a YAML or JSON file. The file holds either
// one proposal, or a list of proposals each selected by a substring of the
// task description:
//
//	plans:
//	  - match: competitor
//	    proposal:
//	      reasoning: research then summarize
//	      steps:
//	        - step_number: 1
//	          capability_id: search_competitors
//	  - proposal: {...}   # no match: fallback
type FileOracle struct {
	Path string
}

type planFile struct {
	Plans []matchedPlan `yaml:"plans"`
}

type matchedPlan struct {
	Match    string   `yaml:"match"`
	Proposal Proposal `yaml:"proposal"`
}

// Propose implements Oracle.
func (f *FileOracle) Propose(_ context.Context, description string, _ []capability.Descriptor) (*Proposal, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return SelectProposal(data, description)
}

// SelectProposal decodes plan file content and picks the proposal for description.
func SelectProposal(data []byte, description string) (*Proposal, error) {
	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}

	if len(pf.Plans) == 0 {
		var p Proposal
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
		}
		if len(p.Steps) == 0 {
			return nil, fmt.Errorf("%w: no steps", ErrMalformedProposal)
		}
		return &p, nil
	}

	lower := strings.ToLower(description)
	var fallback *Proposal
	for i := range pf.Plans {
		mp := &pf.Plans[i]
		if mp.Match == "" {
			if fallback == nil {
				fallback = &mp.Proposal
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(mp.Match)) {
			return &mp.Proposal, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: no plan matches %q", ErrMalformedProposal, description)
}
