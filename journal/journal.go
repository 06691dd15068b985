// Package journal provides durable buffer implementations for bulkq. Rows
// are recorded at enqueue, removed once the remote service has accounted for
// them, and replayed after a restart to recover rows a previous process
// never sent.
package journal

import (
	"encoding/json"

	"github.com/harbor-io/bulkq"
	"github.com/kapetan-io/errors"
)

// record is the stored representation of a journaled row. Payloads are
// JSON encoded; rows destined for a JSON bulk-insert wire must already be
// marshalable.
type record struct {
	InsertID string          `json:"insertId"`
	Payload  json.RawMessage `json:"payload"`
}

func encodeRow(row bulkq.Row) ([]byte, error) {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return nil, errors.Errorf("while encoding row payload: %w", err)
	}
	buf, err := json.Marshal(record{InsertID: row.InsertID, Payload: payload})
	if err != nil {
		return nil, errors.Errorf("while encoding journal record: %w", err)
	}
	return buf, nil
}

func decodeRow(buf []byte) (bulkq.Row, error) {
	var rec record
	if err := json.Unmarshal(buf, &rec); err != nil {
		return bulkq.Row{}, errors.Errorf("while decoding journal record: %w", err)
	}
	var payload any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return bulkq.Row{}, errors.Errorf("while decoding row payload: %w", err)
	}
	return bulkq.Row{InsertID: rec.InsertID, Payload: payload}, nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
