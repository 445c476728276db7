package journal

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps runs in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	units  map[string][]UnitRecord
	latest string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*Run),
		units: make(map[string][]UnitRecord),
	}
}

// StartRun registers r as the latest run.
func (m *MemoryStore) StartRun(r Run) error {
	if r.ID == "" {
		return fmt.Errorf("journal: run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.runs[r.ID]; dup {
		return fmt.Errorf("journal: run %s already started", r.ID)
	}
	run := r
	run.Units, run.Failed = 0, 0
	m.runs[r.ID] = &run
	m.latest = r.ID
	return nil
}

// RecordUnit appends u to its run and updates the run counters.
func (m *MemoryStore) RecordUnit(u UnitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[u.RunID]
	if !ok {
		return fmt.Errorf("journal: %w: %s", ErrUnknownRun, u.RunID)
	}
	run.Units++
	if u.Status == StatusFailed {
		run.Failed++
	}
	m.units[u.RunID] = append(m.units[u.RunID], u)
	return nil
}

// FinishRun stamps the finish time of run id.
func (m *MemoryStore) FinishRun(id string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("journal: %w: %s", ErrUnknownRun, id)
	}
	run.FinishedAt = finishedAt
	return nil
}

// LatestRun returns the most recently started run and a copy of its records.
func (m *MemoryStore) LatestRun() (Run, []UnitRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == "" {
		return Run{}, nil, false, nil
	}
	return *m.runs[m.latest], slices.Clone(m.units[m.latest]), true, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
