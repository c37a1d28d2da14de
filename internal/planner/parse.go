package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseProposal extracts the JSON object from an oracle's text response.
// Text around the object is ignored.
func ParseProposal(response string) (*Proposal, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("%w: no JSON object in response (got %d chars): %q", ErrMalformedProposal, len(response), preview)
	}

	var p Proposal
	if err := json.Unmarshal([]byte(response[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrMalformedProposal)
	}
	for i, s := range p.Steps {
		if strings.TrimSpace(s.CapabilityID) == "" {
			return nil, fmt.Errorf("%w: step %d has no capability_id", ErrMalformedProposal, i+1)
		}
	}
	return &p, nil
}
