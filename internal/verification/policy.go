// Package verification checks step outputs against per-category policies
// and decides how to react when an output fails.
package verification

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Result is the outcome of verifying one output.
type Result struct {
	Passed      bool     `json:"passed"`
	Confidence  float64  `json:"confidence"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Policy verifies a step's structured output. Policies are stateless.
type Policy interface {
	Name() string
	Verify(ctx context.Context, output map[string]any) Result
}

// Rule is a single check on one output field.
//
// Expect supports:
//   - "present": the field exists and is not empty
//   - "min_length N": the rendered field has at least N characters
//   - "contains X": the rendered field contains substring X
//   - "matches /regex/": the rendered field matches the regular expression
//
// An empty Field checks the whole output rendered as text.
type Rule struct {
	Field       string
	Expect      string
	Description string
	Suggestion  string
	Required    bool

	re *regexp.Regexp
}

// compile prepares the rule and validates its expectation.
func (r *Rule) compile() error {
	expect := strings.TrimSpace(r.Expect)
	switch {
	case expect == "present":
	case strings.HasPrefix(expect, "min_length "):
		var n int
		if _, err := fmt.Sscanf(expect, "min_length %d", &n); err != nil {
			return fmt.Errorf("rule %q: bad min_length: %w", r.Description, err)
		}
	case strings.HasPrefix(expect, "contains "):
	case strings.HasPrefix(expect, "matches /") && strings.HasSuffix(expect, "/"):
		pattern := strings.TrimSuffix(strings.TrimPrefix(expect, "matches /"), "/")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("rule %q: bad pattern: %w", r.Description, err)
		}
		r.re = re
	default:
		return fmt.Errorf("rule %q: unknown expectation %q", r.Description, r.Expect)
	}
	return nil
}

// check reports whether the output satisfies the rule.
func (r *Rule) check(output map[string]any) bool {
	var text string
	var present bool
	if r.Field == "" {
		text = RenderOutput(output)
		present = text != ""
	} else {
		v, ok := output[r.Field]
		present = ok && v != nil && fmt.Sprintf("%v", v) != ""
		if ok && v != nil {
			text = fmt.Sprintf("%v", v)
		}
	}

	expect := strings.TrimSpace(r.Expect)
	switch {
	case expect == "present":
		return present
	case strings.HasPrefix(expect, "min_length "):
		var n int
		fmt.Sscanf(expect, "min_length %d", &n)
		return len([]rune(text)) >= n
	case strings.HasPrefix(expect, "contains "):
		return strings.Contains(text, strings.TrimPrefix(expect, "contains "))
	case r.re != nil:
		return r.re.MatchString(text)
	default:
		return false
	}
}

// RulePolicy passes when every required rule passes. Confidence is the
// share of all rules that passed.
type RulePolicy struct {
	PolicyName string
	Rules      []Rule
}

// NewRulePolicy compiles the rules into a policy.
func NewRulePolicy(name string, rules ...Rule) (*RulePolicy, error) {
	p := &RulePolicy{PolicyName: name, Rules: make([]Rule, len(rules))}
	for i, r := range rules {
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		p.Rules[i] = r
	}
	return p, nil
}

// MustRulePolicy is NewRulePolicy that panics on an invalid rule.
func MustRulePolicy(name string, rules ...Rule) *RulePolicy {
	p, err := NewRulePolicy(name, rules...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name implements Policy.
func (p *RulePolicy) Name() string { return p.PolicyName }

// Verify implements Policy.
func (p *RulePolicy) Verify(_ context.Context, output map[string]any) Result {
	res := Result{Passed: true, Confidence: 1}
	if len(p.Rules) == 0 {
		return res
	}

	passed := 0
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.check(output) {
			passed++
			continue
		}
		if r.Required {
			res.Passed = false
		}
		res.Issues = append(res.Issues, r.issue())
		if r.Suggestion != "" {
			res.Suggestions = append(res.Suggestions, r.Suggestion)
		}
	}
	res.Confidence = float64(passed) / float64(len(p.Rules))
	return res
}

func (r *Rule) issue() string {
	if r.Description != "" {
		return r.Description
	}
	return fmt.Sprintf("%s: expected %s", fieldLabel(r.Field), r.Expect)
}

func fieldLabel(field string) string {
	if field == "" {
		return "output"
	}
	return field
}

// CompositePolicy passes only when every member passes.
// Confidence is the minimum member confidence.
type CompositePolicy struct {
	PolicyName string
	Policies   []Policy
}

// Name implements Policy.
func (c *CompositePolicy) Name() string { return c.PolicyName }

// Verify implements Policy.
func (c *CompositePolicy) Verify(ctx context.Context, output map[string]any) Result {
	res := Result{Passed: true, Confidence: 1}
	for _, p := range c.Policies {
		r := p.Verify(ctx, output)
		if !r.Passed {
			res.Passed = false
		}
		if r.Confidence < res.Confidence {
			res.Confidence = r.Confidence
		}
		res.Issues = append(res.Issues, r.Issues...)
		res.Suggestions = append(res.Suggestions, r.Suggestions...)
	}
	return res
}

// RequiredFields returns a policy that requires every named field to be present.
func RequiredFields(name string, fields ...string) *RulePolicy {
	rules := make([]Rule, len(fields))
	for i, f := range fields {
		rules[i] = Rule{
			Field:       f,
			Expect:      "present",
			Description: "missing " + f,
			Suggestion:  "include a non-empty " + f + " field",
			Required:    true,
		}
	}
	return MustRulePolicy(name, rules...)
}

// MinLength returns a policy that requires field to have at least n characters.
func MinLength(name, field string, n int) *RulePolicy {
	return MustRulePolicy(name, Rule{
		Field:       field,
		Expect:      fmt.Sprintf("min_length %d", n),
		Description: fmt.Sprintf("%s shorter than %d characters", fieldLabel(field), n),
		Suggestion:  "expand " + fieldLabel(field),
		Required:    true,
	})
}

// Pattern returns a policy that requires field to match the regular expression.
func Pattern(name, field, pattern, issue, suggestion string) (*RulePolicy, error) {
	return NewRulePolicy(name, Rule{
		Field:       field,
		Expect:      "matches /" + pattern + "/",
		Description: issue,
		Suggestion:  suggestion,
		Required:    true,
	})
}

// Citations returns a policy that requires field to cite at least one
// source, either as [n] markers or URLs.
func Citations(name, field string) *RulePolicy {
	return MustRulePolicy(name, Rule{
		Field:       field,
		Expect:      `matches /\[\d+\]|https?://\S+/`,
		Description: "missing citation",
		Suggestion:  "cite each claim with a [n] marker or a source URL",
		Required:    true,
	})
}

// RenderOutput renders an output map as text with keys in sorted order.
func RenderOutput(output map[string]any) string {
	if len(output) == 0 {
		return ""
	}
	keys := make([]string, 0, len(output))
	for k := range output {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %v", k, output[k])
	}
	return b.String()
}
