package verification

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// policyFile is the on-disk layout of a policies file:
//
//	policies:
//	  - category: research
//	    name: research-citations
//	    rules:
//	      - field: content
//	        expect: "matches /\\[\\d+\\]/"
//	        description: missing citation
//	        suggestion: cite sources as [n]
//	      - field: summary
//	        expect: min_length 40
//	        advisory: true
type policyFile struct {
	Policies []policySpec `yaml:"policies"`
}

type policySpec struct {
	Category string     `yaml:"category"`
	Name     string     `yaml:"name"`
	Rules    []ruleSpec `yaml:"rules"`
}

// ruleSpec is a Rule as written in YAML. Rules are required unless marked advisory.
type ruleSpec struct {
	Field       string `yaml:"field"`
	Expect      string `yaml:"expect"`
	Description string `yaml:"description"`
	Suggestion  string `yaml:"suggestion"`
	Advisory    bool   `yaml:"advisory"`
}

// LoadPolicies reads a YAML policies file into a new registry.
func LoadPolicies(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies: %w", err)
	}
	reg, err := ParsePolicies(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// ParsePolicies parses YAML policy definitions. Several policies for the same
// category are combined into a CompositePolicy.
func ParsePolicies(data []byte) (*Registry, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}

	byCategory := make(map[string][]Policy)
	var order []string
	for i, ps := range f.Policies {
		if ps.Category == "" {
			return nil, fmt.Errorf("policy %d: category is required", i)
		}
		name := ps.Name
		if name == "" {
			name = ps.Category
		}
		rules := make([]Rule, len(ps.Rules))
		for j, rs := range ps.Rules {
			rules[j] = Rule{
				Field:       rs.Field,
				Expect:      rs.Expect,
				Description: rs.Description,
				Suggestion:  rs.Suggestion,
				Required:    !rs.Advisory,
			}
		}
		p, err := NewRulePolicy(name, rules...)
		if err != nil {
			return nil, err
		}
		if _, seen := byCategory[ps.Category]; !seen {
			order = append(order, ps.Category)
		}
		byCategory[ps.Category] = append(byCategory[ps.Category], p)
	}

	reg := NewRegistry()
	for _, c := range order {
		ps := byCategory[c]
		if len(ps) == 1 {
			reg.Register(c, ps[0])
			continue
		}
		reg.Register(c, &CompositePolicy{PolicyName: c, Policies: ps})
	}
	return reg, nil
}
