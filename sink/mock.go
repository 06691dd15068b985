package sink

import (
	"context"
	"sync"

	"github.com/harbor-io/bulkq"
)

// Call records one Flush invocation made against a Mock.
type Call struct {
	Rows []bulkq.Row
}

// Mock is a scripted Sink for tests. Responses are consumed in order; once
// the script is exhausted every further flush succeeds with an empty
// Response.
type Mock struct {
	mu      sync.Mutex
	calls   []Call
	script  []func(rows []bulkq.Row) (*bulkq.Response, error)
	blockCh chan struct{}
}

var _ bulkq.Sink = &Mock{}

func NewMock() *Mock {
	return &Mock{}
}

// Respond appends a scripted response to the script.
func (m *Mock) Respond(f func(rows []bulkq.Row) (*bulkq.Response, error)) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, f)
	return m
}

// RespondOK scripts a full-success response.
func (m *Mock) RespondOK() *Mock {
	return m.Respond(func([]bulkq.Row) (*bulkq.Response, error) {
		return &bulkq.Response{}, nil
	})
}

// RespondErrors scripts a partial-failure response.
func (m *Mock) RespondErrors(insertErrors ...bulkq.InsertError) *Mock {
	return m.Respond(func([]bulkq.Row) (*bulkq.Response, error) {
		return &bulkq.Response{InsertErrors: insertErrors}, nil
	})
}

// RespondError scripts a whole-request failure.
func (m *Mock) RespondError(err error) *Mock {
	return m.Respond(func([]bulkq.Row) (*bulkq.Response, error) {
		return nil, err
	})
}

// Block causes every flush to wait until Release is called, allowing tests
// to hold batches in flight.
func (m *Mock) Block() *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockCh = make(chan struct{})
	return m
}

func (m *Mock) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCh != nil {
		close(m.blockCh)
		m.blockCh = nil
	}
}

func (m *Mock) Flush(ctx context.Context, rows []bulkq.Row) (*bulkq.Response, error) {
	m.mu.Lock()
	cp := make([]bulkq.Row, len(rows))
	copy(cp, rows)
	m.calls = append(m.calls, Call{Rows: cp})
	var f func([]bulkq.Row) (*bulkq.Response, error)
	if len(m.script) != 0 {
		f = m.script[0]
		m.script = m.script[1:]
	}
	blockCh := m.blockCh
	m.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f == nil {
		return &bulkq.Response{}, nil
	}
	return f(rows)
}

// Calls returns a copy of every Flush invocation seen so far.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears recorded calls and any remaining script.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
}
