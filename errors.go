package bulkq

import (
	"fmt"

	"github.com/duh-rpc/duh-go"
	v1 "github.com/duh-rpc/duh-go/proto/v1"
	"github.com/kapetan-io/errors"
	"google.golang.org/protobuf/proto"
)

// -------------------------------------------------

// ErrInvalidOption indicates the caller asked for something the queue
// configuration does not support. It is raised synchronously at the call
// site, before anything is enqueued.
type ErrInvalidOption struct {
	msg string
}

func NewInvalidOption(msg string, args ...any) *ErrInvalidOption {
	return &ErrInvalidOption{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrInvalidOption) Error() string {
	return e.msg
}

func (e *ErrInvalidOption) Is(target error) bool {
	var err *ErrInvalidOption
	return errors.As(target, &err)
}

func (e *ErrInvalidOption) Code() int {
	return duh.CodeBadRequest
}

func (e *ErrInvalidOption) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.msg,
		CodeText: duh.CodeText(duh.CodeBadRequest),
		Code:     int32(duh.CodeBadRequest),
		Details:  nil,
	}
}

func (e *ErrInvalidOption) Details() map[string]string {
	return nil
}

func (e *ErrInvalidOption) Message() string {
	return e.msg
}

var _ duh.Error = &ErrInvalidOption{}

// -------------------------------------------------

// ErrRequestFailed is used to tell the caller the request was valid, but it
// failed for some reason.
type ErrRequestFailed struct {
	msg string
}

func NewRequestFailed(msg string, args ...any) *ErrRequestFailed {
	return &ErrRequestFailed{msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrRequestFailed) Error() string {
	return e.msg
}

func (e *ErrRequestFailed) Is(target error) bool {
	var err *ErrRequestFailed
	return errors.As(target, &err)
}

func (e *ErrRequestFailed) Code() int {
	return duh.CodeRequestFailed
}

func (e *ErrRequestFailed) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.msg,
		CodeText: duh.CodeText(duh.CodeRequestFailed),
		Code:     int32(duh.CodeRequestFailed),
		Details:  nil,
	}
}

func (e *ErrRequestFailed) Details() map[string]string {
	return nil
}

func (e *ErrRequestFailed) Message() string {
	return e.msg
}

var _ duh.Error = &ErrRequestFailed{}

// -------------------------------------------------

// ErrRowInsert reports the failure of a single row within a batch. Other
// rows in the same batch may have been accepted.
type ErrRowInsert struct {
	// Index is the ordinal position of the row within the flushed batch.
	Index int
	// Reason is the remote service's failure reason for this row.
	Reason string
	// Msg is the remote service's message for this row.
	Msg string
}

func NewRowInsert(index int, reason, msg string) *ErrRowInsert {
	return &ErrRowInsert{Index: index, Reason: reason, Msg: msg}
}

func (e *ErrRowInsert) Error() string {
	return fmt.Sprintf("row %d rejected; %s: %s", e.Index, e.Reason, e.Msg)
}

func (e *ErrRowInsert) Is(target error) bool {
	var err *ErrRowInsert
	return errors.As(target, &err)
}

func (e *ErrRowInsert) Code() int {
	return duh.CodeRequestFailed
}

func (e *ErrRowInsert) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.Error(),
		CodeText: duh.CodeText(duh.CodeRequestFailed),
		Code:     int32(duh.CodeRequestFailed),
		Details:  e.Details(),
	}
}

func (e *ErrRowInsert) Details() map[string]string {
	return map[string]string{
		"index":  fmt.Sprintf("%d", e.Index),
		"reason": e.Reason,
	}
}

func (e *ErrRowInsert) Message() string {
	return e.Msg
}

var _ duh.Error = &ErrRowInsert{}

// -------------------------------------------------

// ErrRemoteRequest indicates the entire request failed before per-row
// accounting was possible. Authentication failures, missing tables, quota
// and transport errors all surface as this type.
type ErrRemoteRequest struct {
	code int
	msg  string
}

func NewRemoteRequest(code int, msg string, args ...any) *ErrRemoteRequest {
	return &ErrRemoteRequest{code: code, msg: fmt.Sprintf(msg, args...)}
}

func (e *ErrRemoteRequest) Error() string {
	return fmt.Sprintf("remote request failed (%d): %s", e.code, e.msg)
}

func (e *ErrRemoteRequest) Is(target error) bool {
	var err *ErrRemoteRequest
	return errors.As(target, &err)
}

func (e *ErrRemoteRequest) Code() int {
	return e.code
}

func (e *ErrRemoteRequest) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.msg,
		CodeText: duh.CodeText(e.code),
		Code:     int32(e.code),
		Details:  nil,
	}
}

func (e *ErrRemoteRequest) Details() map[string]string {
	return nil
}

func (e *ErrRemoteRequest) Message() string {
	return e.msg
}

var _ duh.Error = &ErrRemoteRequest{}

// -------------------------------------------------

// ErrUnclassified wraps an error the translator does not recognize. The
// original error remains available through Unwrap so no diagnostic context
// is lost.
type ErrUnclassified struct {
	err error
}

func NewUnclassified(err error) *ErrUnclassified {
	return &ErrUnclassified{err: err}
}

func (e *ErrUnclassified) Error() string {
	return fmt.Sprintf("unclassified error: %s", e.err)
}

func (e *ErrUnclassified) Unwrap() error {
	return e.err
}

func (e *ErrUnclassified) Is(target error) bool {
	var err *ErrUnclassified
	return errors.As(target, &err)
}

func (e *ErrUnclassified) Code() int {
	return duh.CodeRequestFailed
}

func (e *ErrUnclassified) ProtoMessage() proto.Message {
	return &v1.Reply{
		Message:  e.Error(),
		CodeText: duh.CodeText(duh.CodeRequestFailed),
		Code:     int32(duh.CodeRequestFailed),
		Details:  nil,
	}
}

func (e *ErrUnclassified) Details() map[string]string {
	return nil
}

func (e *ErrUnclassified) Message() string {
	return e.Error()
}

var _ duh.Error = &ErrUnclassified{}

// -------------------------------------------------

// Translate maps an error returned by a Sink into the uniform taxonomy used
// to reject pending results. Errors which are already classified pass
// through untouched; coded remote failures become ErrRemoteRequest;
// everything else is wrapped as ErrUnclassified.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var row *ErrRowInsert
	if errors.As(err, &row) {
		return row
	}
	var remote *ErrRemoteRequest
	if errors.As(err, &remote) {
		return remote
	}
	var unclassified *ErrUnclassified
	if errors.As(err, &unclassified) {
		return unclassified
	}

	var coded duh.Error
	if errors.As(err, &coded) {
		return NewRemoteRequest(coded.Code(), coded.Message())
	}

	return NewUnclassified(err)
}
