package persist

import (
	"context"
	"sync"

	"github.com/marcus/toggle/internal/models"
)

// Memory keeps the last saved snapshot in memory. It counts saves so tests
// can observe write coalescing.
type Memory struct {
	mu      sync.Mutex
	records []models.ToggleRecord
	saves   int
	loadErr error
	saveErr error
}

// NewMemory returns an empty Memory backend seeded with records.
func NewMemory(records ...models.ToggleRecord) *Memory {
	m := &Memory{}
	for _, r := range records {
		m.records = append(m.records, r.Clone())
	}
	return m
}

// FailLoad makes the next LoadAll calls return err.
func (m *Memory) FailLoad(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

// FailSave makes SaveAll return err until cleared with nil.
func (m *Memory) FailSave(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

func (m *Memory) LoadAll(_ context.Context) ([]models.ToggleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]models.ToggleRecord, len(m.records))
	for i, r := range m.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *Memory) SaveAll(_ context.Context, records []models.ToggleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = make([]models.ToggleRecord, len(records))
	for i, r := range records {
		m.records[i] = r.Clone()
	}
	m.saves++
	return nil
}

// Saves returns how many successful SaveAll calls happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Snapshot returns the last saved records.
func (m *Memory) Snapshot() []models.ToggleRecord {
	out, _ := m.LoadAll(context.Background())
	return out
}

func (m *Memory) Close() error { return nil }
