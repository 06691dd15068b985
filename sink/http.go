// Package sink provides reference Sink implementations for bulkq. The HTTP
// sink speaks a JSON bulk-insert wire; the Mock sink scripts responses for
// tests.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duh-rpc/duh-go"
	"github.com/harbor-io/bulkq"
	"github.com/kapetan-io/tackle/set"
)

type HTTPConfig struct {
	// Client allows users to provide their own http client with TLS config
	// if needed
	Client *http.Client
	// Endpoint is the full URL of the bulk insert endpoint, in the format
	// `<scheme>://<host>:<port>/<path>`
	Endpoint string
}

// HTTP posts batches as JSON to a bulk insert endpoint. It owns no retry or
// backoff; a failed request surfaces as a whole-batch error and the queue's
// caller decides what to do with it.
type HTTP struct {
	conf HTTPConfig
}

var _ bulkq.Sink = &HTTP{}

func NewHTTP(conf HTTPConfig) (*HTTP, error) {
	set.Default(&conf.Client, &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     2_000,
			MaxIdleConns:        2_000,
			MaxIdleConnsPerHost: 2_000,
			IdleConnTimeout:     60 * time.Second,
		},
	})

	if len(conf.Endpoint) == 0 {
		return nil, bulkq.NewInvalidOption("conf.Endpoint is empty; must provide an http endpoint")
	}

	return &HTTP{conf: conf}, nil
}

type insertRow struct {
	InsertID string `json:"insertId"`
	JSON     any    `json:"json"`
}

type insertRequest struct {
	Rows []insertRow `json:"rows"`
}

// errorReply is the error body shape shared with the relay transport; it
// matches the JSON rendering of a duh v1.Reply.
type errorReply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *HTTP) Flush(ctx context.Context, rows []bulkq.Row) (*bulkq.Response, error) {
	req := insertRequest{Rows: make([]insertRow, len(rows))}
	for i, row := range rows {
		req.Rows[i] = insertRow{InsertID: row.InsertID, JSON: row.Payload}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, duh.NewClientError("while marshaling request payload: %w", err, nil)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, s.conf.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, duh.NewClientError("", err, nil)
	}
	r.Header.Set("Content-Type", "application/json")

	res, err := s.conf.Client.Do(r)
	if err != nil {
		return nil, duh.NewClientError("while sending request: %w", err, nil)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, duh.NewClientError("while reading response body: %w", err, nil)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var reply errorReply
		if jerr := json.Unmarshal(body, &reply); jerr == nil && reply.Message != "" {
			code := reply.Code
			if code == 0 {
				code = res.StatusCode
			}
			return nil, bulkq.NewRemoteRequest(code, reply.Message)
		}
		return nil, bulkq.NewRemoteRequest(res.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp bulkq.Response
	if len(body) != 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, duh.NewClientError("while parsing response body: %w", err, nil)
		}
	}
	return &resp, nil
}
