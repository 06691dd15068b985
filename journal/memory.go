package journal

import (
	"context"
	"sync"

	"github.com/harbor-io/bulkq"
)

// Memory is an in-memory Journal. It provides no durability across processes
// and exists for tests and for exercising the journal path without a data
// file.
type Memory struct {
	mu   sync.Mutex
	rows []bulkq.Row
}

var _ bulkq.Journal = &Memory{}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rows []bulkq.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *Memory) Remove(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := idSet(ids)

	n := 0
	for _, row := range m.rows {
		if _, ok := drop[row.InsertID]; ok {
			continue
		}
		m.rows[n] = row
		n++
	}
	m.rows = m.rows[:n]
	return nil
}

func (m *Memory) Replay(_ context.Context) ([]bulkq.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bulkq.Row, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func (m *Memory) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}
