package bulkq

import "context"

// Row pairs a caller supplied payload with the identifier the remote service
// uses to de-duplicate retried inserts. The queue never inspects or mutates
// the payload; it is handed to the Sink exactly as it was enqueued.
type Row struct {
	// InsertID uniquely identifies this row across retries. Assigned at
	// enqueue time unless the caller provided one via AddRow.
	InsertID string
	// Payload is the record to insert. Owned by the caller.
	Payload any
}

// RowError is a single reason/message pair reported by the remote service
// for a failing row.
type RowError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// InsertError reports the failure of one row within an otherwise successful
// bulk insert. Index is the zero-based ordinal position of the row within
// the batch handed to the Sink.
type InsertError struct {
	Index  int        `json:"index"`
	Errors []RowError `json:"errors"`
}

// Response is the structured result of a bulk insert. An empty or nil
// InsertErrors list means every row in the batch was accepted.
type Response struct {
	InsertErrors []InsertError `json:"insertErrors,omitempty"`
}

// Sink performs the actual bulk call. The queue is protocol agnostic; it
// hands the Sink an ordered batch and expects the Response to reference rows
// by their ordinal position in that batch. Returning an error indicates the
// entire request failed before per-row accounting was possible.
//
// A Sink may be called concurrently when flush triggers overlap, each call
// operates on its own extracted batch.
type Sink interface {
	Flush(ctx context.Context, rows []Row) (*Response, error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rows []Row) (*Response, error)

func (f SinkFunc) Flush(ctx context.Context, rows []Row) (*Response, error) {
	return f(ctx, rows)
}

// Journal is optional durable storage for rows which have been enqueued but
// not yet accepted by the remote service. Implementations are provided by the
// journal package.
type Journal interface {
	// Append records rows in enqueue order.
	Append(ctx context.Context, rows []Row) error
	// Remove discards rows by insert id once the remote request has
	// completed with per-row accounting.
	Remove(ctx context.Context, ids []string) error
	// Replay returns all journaled rows in append order.
	Replay(ctx context.Context) ([]Row, error)
	// Close releases any open files or database handles.
	Close(ctx context.Context) error
}
