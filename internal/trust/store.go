// Package trust tracks per-subject capability outcomes and decides when a
// step needs explicit approval before it runs.
package trust

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/stepwise/pkg/models"
)

// Store records and reads trust counters for (subject, capability) pairs.
// RecordOutcome must be an atomic increment: concurrent steps in one layer
// may target the same pair.
type Store interface {
	RecordOutcome(ctx context.Context, subjectID, capabilityID string, success bool) error
	GetTrustRecord(ctx context.Context, subjectID, capabilityID string) (models.TrustRecord, error)
}

type key struct {
	subject    string
	capability string
}

type counters struct {
	successes atomic.Int64
	failures  atomic.Int64
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]*counters
}

// NewMemoryStore creates an empty in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key]*counters)}
}

func (m *MemoryStore) counters(subjectID, capabilityID string) *counters {
	k := key{subjectID, capabilityID}

	m.mu.RLock()
	c, ok := m.records[k]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.records[k]; !ok {
		c = &counters{}
		m.records[k] = c
	}
	return c
}

// RecordOutcome increments the success or failure counter.
func (m *MemoryStore) RecordOutcome(_ context.Context, subjectID, capabilityID string, success bool) error {
	c := m.counters(subjectID, capabilityID)
	if success {
		c.successes.Add(1)
	} else {
		c.failures.Add(1)
	}
	return nil
}

// GetTrustRecord returns the current counters; a missing pair has zero history.
func (m *MemoryStore) GetTrustRecord(_ context.Context, subjectID, capabilityID string) (models.TrustRecord, error) {
	rec := models.TrustRecord{SubjectID: subjectID, CapabilityID: capabilityID}

	m.mu.RLock()
	c, ok := m.records[key{subjectID, capabilityID}]
	m.mu.RUnlock()
	if ok {
		rec.Successes = c.successes.Load()
		rec.Failures = c.failures.Load()
	}
	return rec, nil
}

var _ Store = (*MemoryStore)(nil)
