package verification

import (
	"context"
	"fmt"
	"log"
)

// RetryFunc re-invokes the step with verification feedback and returns the
// new output. The feedback lists issues followed by suggestions.
type RetryFunc func(ctx context.Context, feedback []string) (map[string]any, error)

// Request is one verification of a step output.
type Request struct {
	SubjectID string
	Category  string
	Content   map[string]any
	// Retry is nil when the step cannot be re-invoked.
	Retry         RetryFunc
	HasAlternates bool
}

// Outcome is the result of VerifyAndAdapt.
type Outcome struct {
	// Content is the final content: the retry output when a retry ran,
	// otherwise the original.
	Content map[string]any
	// Result is nil when no policy applies.
	Result    *Result
	Escalated bool
	Decision  Decision
	Retried   bool
}

// Loop verifies outputs and adapts to failures.
type Loop struct {
	policies    *Registry
	coordinator Coordinator
}

// NewLoop creates a verification loop. A nil coordinator escalates every failure.
func NewLoop(policies *Registry, coordinator Coordinator) *Loop {
	return &Loop{policies: policies, coordinator: coordinator}
}

// HasPolicy reports whether outputs of a category are verified.
func (l *Loop) HasPolicy(category string) bool {
	if l == nil {
		return false
	}
	_, ok := l.policies.Lookup(category)
	return ok
}

// VerifyAndAdapt verifies content against the category's policy.
//
// Without a policy the content passes through with a nil Result. A failing
// output is retried once when the coordinator answers RetrySame; any other
// decision, a missing coordinator, or a failing retry escalates. A policy
// that panics is treated as absent.
func (l *Loop) VerifyAndAdapt(ctx context.Context, req Request) Outcome {
	out := Outcome{Content: req.Content}
	if l == nil {
		return out
	}
	policy, ok := l.policies.Lookup(req.Category)
	if !ok {
		return out
	}

	res, ok := safeVerify(ctx, policy, req.Content)
	if !ok {
		return out
	}
	out.Result = &res
	if res.Passed {
		return out
	}

	if l.coordinator == nil {
		out.Decision = Escalate
		out.Escalated = true
		return out
	}

	out.Decision = l.coordinator.Decide(ctx, DecisionInput{
		SubjectID:     req.SubjectID,
		Category:      req.Category,
		Attempt:       1,
		Result:        res,
		HasAlternates: req.HasAlternates,
	})
	if out.Decision != RetrySame || req.Retry == nil {
		out.Escalated = true
		return out
	}

	retried, err := req.Retry(ctx, Feedback(res))
	if err != nil {
		log.Printf("[verification] retry for %s failed: %v", req.Category, err)
		out.Escalated = true
		return out
	}
	out.Retried = true
	out.Content = retried

	res2, ok := safeVerify(ctx, policy, retried)
	if !ok {
		out.Result = nil
		return out
	}
	out.Result = &res2
	out.Escalated = !res2.Passed
	return out
}

// Feedback renders a failed result as retry context lines.
func Feedback(res Result) []string {
	lines := make([]string, 0, len(res.Issues)+len(res.Suggestions))
	for _, i := range res.Issues {
		lines = append(lines, "Issue: "+i)
	}
	for _, s := range res.Suggestions {
		lines = append(lines, "Suggestion: "+s)
	}
	return lines
}

func safeVerify(ctx context.Context, p Policy, content map[string]any) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[verification] policy %s panicked: %v", p.Name(), r)
			res, ok = Result{}, false
		}
	}()
	return p.Verify(ctx, content), true
}

// String summarizes an outcome for logs.
func (o Outcome) String() string {
	if o.Result == nil {
		return "unverified"
	}
	return fmt.Sprintf("passed=%v confidence=%.2f retried=%v escalated=%v",
		o.Result.Passed, o.Result.Confidence, o.Retried, o.Escalated)
}
