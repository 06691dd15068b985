// Package bulkq is a client side buffering layer placed in front of a remote
// bulk-insert API. Individually submitted rows accumulate in an ordered
// buffer, are grouped into batches bounded by size and time, and are handed
// to a caller supplied Sink. Each tracked row receives its own completion
// Result, reconciled from the Sink's partial-failure response by ordinal
// index.
package bulkq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/random"
	"github.com/kapetan-io/tackle/set"
	"github.com/segmentio/ksuid"
)

const (
	MsgQueueInShutdown = "queue is shutting down"
	MsgTrackingOff     = "row tracking is disabled; enable Config.TrackRows to request per-row results"
	MsgTrackingOn      = "row tracking is enabled; AddMany cannot produce per-row results, use Add for each payload"
)

var ErrQueueShutdown = NewRequestFailed(MsgQueueInShutdown)

type Config struct {
	// MaxItems triggers an immediate flush of the oldest MaxItems rows once
	// the buffer reaches this length. Zero disables the size trigger and
	// removes the batch size cap.
	MaxItems int
	// FlushInterval arms a flush timer on the first enqueue into an empty
	// buffer. Zero disables the timer.
	FlushInterval clock.Duration
	// TrackRows enables per-row completion results. When false, Add with
	// track=true fails fast with ErrInvalidOption.
	TrackRows bool
	// Sink receives extracted batches. Required.
	Sink Sink
	// Log is the logger used by the queue
	Log *slog.Logger
	// Clock is the time provider used for flush timers. It is configurable
	// so it can be overridden for testing.
	Clock *clock.Provider
	// IDs generates insert identifiers for enqueued rows.
	IDs IDGenerator
	// Journal, if set, durably records rows until the remote service has
	// accounted for them.
	Journal Journal
}

// entry pairs a buffered row with its optional completion handles. res is
// set for tracked rows; group is set on the last row of an AddMany group and
// resolves once that row's batch has been sent, regardless of outcome.
type entry struct {
	row   Row
	res   *Result
	group *Result
}

// flushTimer pairs an armed clock timer with a channel that releases the
// goroutine waiting on it when the timer is cleared before firing.
type flushTimer struct {
	timer  clock.Timer
	stopCh chan struct{}
}

// Queue is an ordered buffer of rows with size and time triggered flushing.
// Enqueue and batch extraction are serialized through a mutex so the buffer
// never exceeds MaxItems at rest; waiting on the Sink is not serialized, so
// batches may be in flight concurrently.
type Queue struct {
	conf Config
	log  *slog.Logger

	mu    sync.Mutex
	buf   []entry
	timer *flushTimer

	// inFlight tracks sends which have not yet settled. Close waits on it
	// to guarantee drain-on-close.
	inFlight   sync.WaitGroup
	inShutdown atomic.Bool
	instanceID string
	metrics    queueMetrics
}

func NewQueue(conf Config) (*Queue, error) {
	if conf.Sink == nil {
		return nil, NewInvalidOption("sink is required; provide a Sink or SinkFunc")
	}
	if conf.MaxItems < 0 {
		return nil, NewInvalidOption("max items is invalid; cannot be negative")
	}
	if conf.FlushInterval < 0 {
		return nil, NewInvalidOption("flush interval is invalid; cannot be negative")
	}
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())
	if conf.IDs == nil {
		conf.IDs = NewUUIDGenerator()
	}

	q := &Queue{
		instanceID: random.Alpha("", 10),
		metrics:    newQueueMetrics(),
		conf:       conf,
	}
	q.log = conf.Log.With("code.namespace", "Queue", "instance-id", q.instanceID)
	return q, nil
}

// Add appends a single row to the buffer. If track is true the returned
// Result completes with that row's individual outcome; requesting tracking
// on a queue configured with TrackRows false is a configuration error and
// enqueues nothing.
func (q *Queue) Add(payload any, track bool) (*Result, error) {
	if track && !q.conf.TrackRows {
		return nil, NewInvalidOption(MsgTrackingOff)
	}
	e := entry{row: Row{InsertID: q.conf.IDs.Generate(), Payload: payload}}
	if track {
		e.res = newResult()
	}
	if err := q.enqueue([]entry{e}); err != nil {
		return nil, err
	}
	return e.res, nil
}

// AddRow appends a caller built row, preserving a caller supplied InsertID
// so retried inserts can be de-duplicated by the remote service. An empty
// InsertID is assigned one.
func (q *Queue) AddRow(row Row, track bool) (*Result, error) {
	if track && !q.conf.TrackRows {
		return nil, NewInvalidOption(MsgTrackingOff)
	}
	if row.InsertID == "" {
		row.InsertID = q.conf.IDs.Generate()
	}
	e := entry{row: row}
	if track {
		e.res = newResult()
	}
	if err := q.enqueue([]entry{e}); err != nil {
		return nil, err
	}
	return e.res, nil
}

// AddMany appends payloads without individual tracking. The returned Result
// resolves once the last payload of the group has been flushed; it reports
// that the send completed, not that every row succeeded. On a queue with
// TrackRows enabled AddMany is a configuration error, as every tracked row
// must receive exactly one Result.
func (q *Queue) AddMany(payloads []any) (*Result, error) {
	if q.conf.TrackRows {
		return nil, NewInvalidOption(MsgTrackingOn)
	}
	if len(payloads) == 0 {
		return nil, NewInvalidOption("payloads cannot be empty; at least one payload is required")
	}
	group := newResult()
	entries := make([]entry, len(payloads))
	for i, p := range payloads {
		entries[i] = entry{row: Row{InsertID: q.conf.IDs.Generate(), Payload: p}}
	}
	entries[len(entries)-1].group = group
	if err := q.enqueue(entries); err != nil {
		return nil, err
	}
	return group, nil
}

func (q *Queue) enqueue(entries []entry) error {
	q.mu.Lock()
	// Checked under q.mu so no add can slip in behind Close's drain loop
	// and strand a Result that never completes.
	if q.inShutdown.Load() {
		q.mu.Unlock()
		return ErrQueueShutdown
	}
	if q.conf.Journal != nil {
		rows := make([]Row, len(entries))
		for i := range entries {
			rows[i] = entries[i].row
		}
		if err := q.conf.Journal.Append(context.Background(), rows); err != nil {
			q.mu.Unlock()
			return Translate(err)
		}
	}
	q.buf = append(q.buf, entries...)
	batches := q.extractFullBatchesLocked()
	q.syncTimerLocked()
	q.mu.Unlock()

	q.metrics.enqueued.Add(float64(len(entries)))
	q.metrics.depth.Set(float64(q.Len()))

	for _, batch := range batches {
		q.dispatch(batch, "size")
	}
	return nil
}

// extractFullBatchesLocked removes as many full MaxItems batches as the
// buffer holds, oldest first. Callers must hold q.mu.
func (q *Queue) extractFullBatchesLocked() [][]entry {
	if q.conf.MaxItems <= 0 {
		return nil
	}
	var batches [][]entry
	for len(q.buf) >= q.conf.MaxItems {
		batches = append(batches, q.extractLocked())
	}
	return batches
}

// extractLocked removes up to MaxItems of the oldest entries, or all entries
// when MaxItems is unset. Callers must hold q.mu.
func (q *Queue) extractLocked() []entry {
	n := len(q.buf)
	if q.conf.MaxItems > 0 && n > q.conf.MaxItems {
		n = q.conf.MaxItems
	}
	if n == 0 {
		return nil
	}
	batch := make([]entry, n)
	copy(batch, q.buf[:n])
	q.buf = append(q.buf[:0], q.buf[n:]...)
	return batch
}

// syncTimerLocked reconciles the single flush timer with the buffer state:
// armed while rows are buffered and FlushInterval is set, cleared once the
// buffer drains. Callers must hold q.mu.
func (q *Queue) syncTimerLocked() {
	if len(q.buf) == 0 {
		q.clearTimerLocked()
		return
	}
	if q.conf.FlushInterval <= 0 || q.timer != nil {
		return
	}
	ft := &flushTimer{
		timer:  q.conf.Clock.NewTimer(q.conf.FlushInterval),
		stopCh: make(chan struct{}),
	}
	q.timer = ft
	q.inFlight.Add(1)
	go func() {
		defer q.inFlight.Done()
		select {
		case <-ft.timer.C():
			q.onTimer(ft)
		case <-ft.stopCh:
		}
	}()
}

func (q *Queue) clearTimerLocked() {
	if q.timer == nil {
		return
	}
	q.timer.timer.Stop()
	close(q.timer.stopCh)
	q.timer = nil
}

// onTimer is the sole action of the flush timer. A fire that raced a
// concurrent drain extracts nothing and returns immediately.
func (q *Queue) onTimer(ft *flushTimer) {
	q.mu.Lock()
	if q.timer == ft {
		q.timer = nil
	}
	batch := q.extractLocked()
	q.syncTimerLocked()
	q.mu.Unlock()
	q.metrics.depth.Set(float64(q.Len()))

	if len(batch) == 0 {
		return
	}
	if err := q.send(context.Background(), batch, "interval"); err != nil {
		// The timer driven path has no caller to propagate to.
		q.log.Error("interval flush failed", "error", err, "rows", len(batch))
	}
}

func (q *Queue) dispatch(batch []entry, trigger string) {
	q.inFlight.Add(1)
	go func() {
		defer q.inFlight.Done()
		if err := q.send(context.Background(), batch, trigger); err != nil {
			q.log.Error("flush failed", "trigger", trigger, "error", err, "rows", len(batch))
		}
	}()
}

// Flush extracts up to MaxItems of the oldest buffered rows, sends them
// through the Sink and reconciles per-row outcomes. It returns the
// translated whole-request error if the Sink failed; row-level failures
// surface only through their individual Results. Flushing an empty buffer
// is a no-op.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	batch := q.extractLocked()
	q.syncTimerLocked()
	q.mu.Unlock()
	q.metrics.depth.Set(float64(q.Len()))

	if len(batch) == 0 {
		return nil
	}
	return q.send(ctx, batch, "manual")
}

// send hands the batch to the Sink and resolves or rejects every completion
// handle it carries. Entries are never reordered between extraction and the
// Sink call; response indexes map back by ordinal position.
func (q *Queue) send(ctx context.Context, batch []entry, trigger string) error {
	flushID := ksuid.New().String()
	rows := make([]Row, len(batch))
	for i := range batch {
		rows[i] = batch[i].row
		if batch[i].res != nil {
			batch[i].res.setIndex(i)
		}
	}

	start := q.conf.Clock.Now()
	resp, err := q.conf.Sink.Flush(ctx, rows)
	q.metrics.flushDuration.WithLabelValues(trigger).
		Observe(q.conf.Clock.Now().Sub(start).Seconds())

	if err != nil {
		terr := Translate(err)
		q.metrics.flushFailures.Inc()
		q.metrics.rejected.Add(float64(len(batch)))
		for i := range batch {
			if batch[i].res != nil {
				batch[i].res.ForceReject(terr)
			} else {
				q.log.Warn("untracked row dropped; batch rejected",
					"flush-id", flushID, "insert-id", rows[i].InsertID, "trigger", trigger)
			}
			if batch[i].group != nil {
				batch[i].group.ForceResolve(nil)
			}
		}
		return terr
	}

	failed := make(map[int][]RowError)
	if resp != nil {
		for _, ie := range resp.InsertErrors {
			if ie.Index < 0 || ie.Index >= len(batch) {
				q.log.Warn("insert error index out of range",
					"flush-id", flushID, "index", ie.Index, "rows", len(batch))
				continue
			}
			failed[ie.Index] = ie.Errors
		}
	}

	for i := range batch {
		rowErrs, ok := failed[i]
		if ok && len(rowErrs) > 0 {
			// A row carrying more than one error raises only the first;
			// the extras are logged.
			for _, extra := range rowErrs[1:] {
				q.log.Warn("additional row error", "flush-id", flushID,
					"index", i, "reason", extra.Reason, "message", extra.Message)
			}
			rerr := NewRowInsert(i, rowErrs[0].Reason, rowErrs[0].Message)
			q.metrics.rejected.Inc()
			if batch[i].res != nil {
				batch[i].res.ForceReject(rerr)
			} else {
				q.log.Warn("untracked row rejected", "flush-id", flushID,
					"insert-id", rows[i].InsertID, "reason", rowErrs[0].Reason,
					"message", rowErrs[0].Message)
			}
		} else {
			q.metrics.flushed.Inc()
			if batch[i].res != nil {
				batch[i].res.ForceResolve(rows[i])
			}
		}
		if batch[i].group != nil {
			batch[i].group.ForceResolve(nil)
		}
	}

	// The request completed with per-row accounting; rejected rows are data
	// errors which a replay would reject again, so the journal drops them
	// along with the accepted rows.
	if q.conf.Journal != nil {
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].InsertID
		}
		if jerr := q.conf.Journal.Remove(ctx, ids); jerr != nil {
			q.log.Error("journal remove failed", "flush-id", flushID, "error", jerr)
		}
	}
	return nil
}

// Recover re-enqueues rows left in the journal by a previous process. The
// replayed rows are untracked; their original Results, if any, belonged to
// callers which no longer exist.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	if q.conf.Journal == nil {
		return 0, nil
	}

	q.mu.Lock()
	if q.inShutdown.Load() {
		q.mu.Unlock()
		return 0, ErrQueueShutdown
	}
	rows, err := q.conf.Journal.Replay(ctx)
	if err != nil {
		q.mu.Unlock()
		return 0, Translate(err)
	}
	if len(rows) == 0 {
		q.mu.Unlock()
		return 0, nil
	}

	for _, row := range rows {
		q.buf = append(q.buf, entry{row: row})
	}
	batches := q.extractFullBatchesLocked()
	q.syncTimerLocked()
	q.mu.Unlock()
	q.metrics.depth.Set(float64(q.Len()))

	for _, batch := range batches {
		q.dispatch(batch, "size")
	}
	return len(rows), nil
}

// Len reports the number of buffered rows not yet extracted into a batch.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close drains the queue: every buffered row is flushed before resources are
// released. Rows which cannot be flushed before the context expires have
// their Results rejected with ErrQueueShutdown. Close is idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.inShutdown.Swap(true) {
		q.mu.Unlock()
		return nil
	}
	q.clearTimerLocked()
	q.mu.Unlock()

	var err error
	for {
		q.mu.Lock()
		batch := q.extractLocked()
		q.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		if ctx.Err() != nil {
			q.rejectBatch(batch, ErrQueueShutdown)
			err = ctx.Err()
			continue
		}
		if ferr := q.send(ctx, batch, "close"); ferr != nil {
			err = ferr
		}
	}
	q.metrics.depth.Set(0)

	doneCh := make(chan struct{})
	go func() {
		q.inFlight.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if q.conf.Journal != nil {
		if jerr := q.conf.Journal.Close(context.Background()); jerr != nil && err == nil {
			err = jerr
		}
	}
	return err
}

func (q *Queue) rejectBatch(batch []entry, err error) {
	for i := range batch {
		if batch[i].res != nil {
			batch[i].res.ForceReject(err)
		}
		if batch[i].group != nil {
			batch[i].group.ForceReject(err)
		}
	}
}
