package daemon

import (
	"context"
	"log/slog"

	"github.com/harbor-io/bulkq"
	"github.com/harbor-io/bulkq/transport"
	"github.com/kapetan-io/errors"
)

// Service implements transport.Service on top of a bulkq.Queue. Whether
// rows.add or rows.insert is available depends on the queue's TrackRows
// configuration; the unsupported operation surfaces the queue's
// configuration error to the HTTP caller.
type Service struct {
	queue *bulkq.Queue
	log   *slog.Logger
}

var _ transport.Service = &Service{}

func NewService(queue *bulkq.Queue, log *slog.Logger) *Service {
	return &Service{queue: queue, log: log.With("code.namespace", "Service")}
}

func (s *Service) RowsAdd(_ context.Context, rows []bulkq.Row) (int, error) {
	for i, row := range rows {
		if _, err := s.queue.AddRow(row, false); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

func (s *Service) RowsInsert(ctx context.Context, rows []bulkq.Row) (*bulkq.Response, error) {
	results := make([]*bulkq.Result, len(rows))
	for i, row := range rows {
		res, err := s.queue.AddRow(row, true)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}

	// Force the buffered rows out; MaxItems may split them across batches.
	for s.queue.Len() > 0 {
		if err := s.queue.Flush(ctx); err != nil {
			// The whole-request failure has already rejected each tracked
			// Result; per-row outcomes below carry it to the caller.
			s.log.Warn("flush failed during rows.insert", "error", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var resp bulkq.Response
	for i, res := range results {
		if _, err := res.Wait(ctx); err != nil {
			resp.InsertErrors = append(resp.InsertErrors, bulkq.InsertError{
				Index:  i,
				Errors: []bulkq.RowError{rowErrorFrom(err)},
			})
		}
	}
	return &resp, nil
}

func (s *Service) QueueFlush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

func (s *Service) QueueStats(_ context.Context, stats *transport.Stats) error {
	stats.Buffered = s.queue.Len()
	return nil
}

func rowErrorFrom(err error) bulkq.RowError {
	var row *bulkq.ErrRowInsert
	if errors.As(err, &row) {
		return bulkq.RowError{Reason: row.Reason, Message: row.Msg}
	}
	return bulkq.RowError{Reason: "flush_failed", Message: err.Error()}
}
