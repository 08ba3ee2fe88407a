package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Memory is an in-process Store. History is capped at maxHistory entries;
// the oldest entry is dropped when the cap is reached.
type Memory struct {
	mu         sync.RWMutex
	latest     *types.SensorReading
	health     *types.HealthRecord
	history    []Entry
	maxHistory int
	now        func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store. maxHistory <= 0 selects DefaultMaxHistory.
func NewMemory(maxHistory int) *Memory {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Memory{
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (m *Memory) PutReading(_ context.Context, r types.SensorReading) (Entry, error) {
	e := Entry{
		ID:         uuid.NewString(),
		Reading:    r,
		ReceivedAt: m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = &r
	if len(m.history) >= m.maxHistory {
		copy(m.history, m.history[1:])
		m.history[len(m.history)-1] = e
	} else {
		m.history = append(m.history, e)
	}
	return e, nil
}

func (m *Memory) Latest(context.Context) (types.SensorReading, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return types.SensorReading{}, false, nil
	}
	return *m.latest, true, nil
}

func (m *Memory) SetCurrentHealth(_ context.Context, rec types.HealthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = &rec
	return nil
}

func (m *Memory) CurrentHealth(context.Context) (types.HealthRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.health == nil {
		return types.HealthRecord{}, false, nil
	}
	return *m.health, true, nil
}

func (m *Memory) History(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	out := make([]Entry, len(m.history)-start)
	copy(out, m.history[start:])
	return out, nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	removed := 0
	for _, e := range m.history {
		if e.ReceivedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.history = kept
	return removed, nil
}

// Count returns the number of history entries held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

func (m *Memory) Close() error { return nil }
