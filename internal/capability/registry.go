package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCapability is returned when a capability id is not registered.
var ErrUnknownCapability = errors.New("unknown capability")

type entry struct {
	desc Descriptor
	impl Capability
}

// Registry maps capability ids to implementations and metadata.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(desc Descriptor, impl Capability) error {
	if desc.ID == "" {
		return fmt.Errorf("register capability: id is required")
	}
	if impl == nil {
		return fmt.Errorf("register capability %s: implementation is nil", desc.ID)
	}
	if desc.Path == "" {
		desc.Path = desc.ID
	}
	if desc.Name == "" {
		desc.Name = desc.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.ID] = entry{desc: desc, impl: impl}
	return nil
}

// Resolve returns the implementation and metadata for id.
func (r *Registry) Resolve(id string) (Capability, Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCapability, id)
	}
	return e.impl, e.desc, nil
}

// Describe returns the metadata for id.
func (r *Registry) Describe(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e.desc, ok
}

// Descriptors returns the metadata of every registered capability, sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
