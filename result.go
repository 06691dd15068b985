package bulkq

import (
	"context"
	"sync"
)

// Result is the completion handle returned for a tracked insert. It begins
// pending and is completed exactly once by batch reconciliation, from outside
// the call stack that created it. The first call to ForceResolve or
// ForceReject wins; later calls never change a terminal Result.
type Result struct {
	mu      sync.Mutex
	readyCh chan struct{}
	done    bool
	value   any
	err     error
	index   int
}

func newResult() *Result {
	return &Result{
		readyCh: make(chan struct{}),
		index:   -1,
	}
}

// ForceResolve completes the Result successfully with the given value.
// It is a no-op if the Result is already terminal.
func (r *Result) ForceResolve(value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.value = value
	r.done = true
	close(r.readyCh)
}

// ForceReject completes the Result with an error. It is a no-op if the
// Result is already terminal.
func (r *Result) ForceReject(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.err = err
	r.done = true
	close(r.readyCh)
}

// Done is closed once the Result is terminal.
func (r *Result) Done() <-chan struct{} {
	return r.readyCh
}

// Wait blocks until the Result is terminal or the context is cancelled.
func (r *Result) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.readyCh:
		return r.Value(), r.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the rejection error, or nil if the Result is pending or was
// fulfilled.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Value returns the fulfillment value, or nil if the Result is pending or
// was rejected.
func (r *Result) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Index is the ordinal position the row held within the batch it was flushed
// with, or -1 if the row has not been extracted into a batch yet.
func (r *Result) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

func (r *Result) setIndex(i int) {
	r.mu.Lock()
	r.index = i
	r.mu.Unlock()
}
