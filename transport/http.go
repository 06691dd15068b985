// Package transport exposes a bulkq queue over HTTP. Callers POST rows to
// the relay, which buffers and batches them toward the downstream bulk
// insert endpoint.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/duh-rpc/duh-go"
	v1 "github.com/duh-rpc/duh-go/proto/v1"
	"github.com/harbor-io/bulkq"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RPCRowsAdd    = "/v1/rows.add"
	RPCRowsInsert = "/v1/rows.insert"
	RPCQueueFlush = "/v1/queue.flush"
	RPCQueueStats = "/v1/queue.stats"

	maxAddPayloadSize = 5 * 1024 * 1024
)

// Service is an abstraction separating the public protocol from the
// underlying implementation.
//
// Abstraction rules dictate that the `transport` package should NOT access
// the queue directly. To expose new queue capabilities via the HTTP
// interface, we must first add that capability to the `Service`.
type Service interface {
	// RowsAdd buffers rows without per-row tracking, returning the number
	// of rows accepted into the buffer.
	RowsAdd(ctx context.Context, rows []bulkq.Row) (int, error)
	// RowsInsert buffers rows with per-row tracking, forces a flush, and
	// reports per-row outcomes in the response.
	RowsInsert(ctx context.Context, rows []bulkq.Row) (*bulkq.Response, error)
	// QueueFlush force drains buffered rows toward the downstream sink.
	QueueFlush(ctx context.Context) error
	// QueueStats reports buffer state.
	QueueStats(ctx context.Context, stats *Stats) error
}

// Stats is the body of a queue.stats reply.
type Stats struct {
	Buffered int `json:"buffered"`
}

// WireRow is the JSON wire representation of a row.
type WireRow struct {
	InsertID string `json:"insertId,omitempty"`
	JSON     any    `json:"json"`
}

// RowsRequest is the body of rows.add and rows.insert requests.
type RowsRequest struct {
	Rows []WireRow `json:"rows"`
}

type HTTPHandler struct {
	duration *prometheus.SummaryVec
	metrics  http.Handler
	service  Service
}

func NewHTTPHandler(s Service, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_handler_duration",
			Help: "The timings of http requests handled by the relay",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.99: 0.001,
			},
		}, []string{"path"}),
		metrics: metrics,
		service: s,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(h.duration.WithLabelValues(r.URL.Path)).ObserveDuration()
	ctx := r.Context()

	if r.URL.Path == "/metrics" && h.metrics != nil {
		h.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method != http.MethodPost {
		duh.ReplyWithCode(w, r, duh.CodeBadRequest, nil,
			fmt.Sprintf("http method '%s' not allowed; only POST", r.Method))
		return
	}

	switch r.URL.Path {
	case RPCRowsAdd:
		h.RowsAdd(ctx, w, r)
		return
	case RPCRowsInsert:
		h.RowsInsert(ctx, w, r)
		return
	case RPCQueueFlush:
		h.QueueFlush(ctx, w, r)
		return
	case RPCQueueStats:
		h.QueueStats(ctx, w, r)
		return
	}
	duh.ReplyWithCode(w, r, duh.CodeNotImplemented, nil, "no such method; "+r.URL.Path)
}

func (h *HTTPHandler) RowsAdd(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	rows, err := readRows(r)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	count, err := h.service.RowsAdd(ctx, rows)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{
		Code:     int32(duh.CodeOK),
		CodeText: duh.CodeText(duh.CodeOK),
		Message:  fmt.Sprintf("%d rows buffered", count),
	})
}

func (h *HTTPHandler) RowsInsert(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	rows, err := readRows(r)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	resp, err := h.service.RowsInsert(ctx, rows)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	replyJSON(w, resp)
}

func (h *HTTPHandler) QueueFlush(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := h.service.QueueFlush(ctx); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{
		Code:     int32(duh.CodeOK),
		CodeText: duh.CodeText(duh.CodeOK),
	})
}

func (h *HTTPHandler) QueueStats(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var stats Stats
	if err := h.service.QueueStats(ctx, &stats); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	replyJSON(w, stats)
}

func readRows(r *http.Request) ([]bulkq.Row, error) {
	var req RowsRequest
	body := http.MaxBytesReader(nil, r.Body, maxAddPayloadSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, bulkq.NewInvalidOption("while parsing request body: %s", err)
	}
	if len(req.Rows) == 0 {
		return nil, bulkq.NewInvalidOption("rows cannot be empty; at least one row is required")
	}
	rows := make([]bulkq.Row, len(req.Rows))
	for i, wr := range req.Rows {
		rows[i] = bulkq.Row{InsertID: wr.InsertID, Payload: wr.JSON}
	}
	return rows, nil
}

func replyJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// Describe fetches prometheus metrics to be registered
func (h *HTTPHandler) Describe(ch chan<- *prometheus.Desc) {
	h.duration.Describe(ch)
}

// Collect fetches metrics from the server for use by prometheus
func (h *HTTPHandler) Collect(ch chan<- prometheus.Metric) {
	h.duration.Collect(ch)
}
