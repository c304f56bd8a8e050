package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests and single-process runs; data is lost when the process
// exits. MemStore is safe for concurrent use, so parallel scenarios can share
// one instance.
type MemStore struct {
	mu       sync.RWMutex
	traces   map[string][]TransitionRecord // runID -> trace
	verdicts map[string]VerdictRecord      // runID -> verdict
	closed   bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		traces:   make(map[string][]TransitionRecord),
		verdicts: make(map[string]VerdictRecord),
	}
}

// SaveTransition appends rec to the trace of runID.
func (m *MemStore) SaveTransition(_ context.Context, runID string, rec TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	m.traces[runID] = append(m.traces[runID], rec)
	return nil
}

// LoadTrace returns a copy of the trace of runID ordered by step.
func (m *MemStore) LoadTrace(_ context.Context, runID string) ([]TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.traces[runID]
	if !ok || len(records) == 0 {
		return nil, ErrNotFound
	}

	out := make([]TransitionRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// SaveVerdict stores v, replacing an earlier verdict of the same run.
func (m *MemStore) SaveVerdict(_ context.Context, v VerdictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.Mismatches = append([]string(nil), v.Mismatches...)
	m.verdicts[v.RunID] = v
	return nil
}

// LoadVerdict returns the verdict of runID.
func (m *MemStore) LoadVerdict(_ context.Context, runID string) (VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.verdicts[runID]
	if !ok {
		return VerdictRecord{}, ErrNotFound
	}
	v.Mismatches = append([]string(nil), v.Mismatches...)
	return v, nil
}

// ListVerdicts returns every verdict ordered by RunID.
func (m *MemStore) ListVerdicts(_ context.Context) ([]VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]VerdictRecord, 0, len(m.verdicts))
	for _, v := range m.verdicts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

// Close marks the store closed; later writes fail.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
