package verification

import (
	"sort"
	"sync"
)

// Registry maps capability categories to verification policies.
// A category without a policy is not verified.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewRegistry creates an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register sets the policy for a category, replacing any existing one.
func (r *Registry) Register(category string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[category] = p
}

// Lookup returns the policy for a category. Safe on a nil registry.
func (r *Registry) Lookup(category string) (Policy, bool) {
	if r == nil || category == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[category]
	return p, ok
}

// Categories returns the registered categories in sorted order.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.policies))
	for c := range r.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
