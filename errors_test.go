package bulkq_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/duh-rpc/duh-go"
	"github.com/harbor-io/bulkq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidOption(t *testing.T) {
	in := bulkq.NewInvalidOption("invalid option")
	assert.Equal(t, "invalid option", in.Error())
	err := fmt.Errorf("wrap: %w", in)
	assert.Equal(t, "wrap: invalid option", err.Error())

	var d duh.Error
	require.True(t, errors.As(err, &d))
	assert.Equal(t, duh.CodeBadRequest, d.Code())
	assert.Equal(t, "invalid option", d.Message())
}

func TestNewRowInsert(t *testing.T) {
	in := bulkq.NewRowInsert(3, "invalid", "no such field: user_name")
	assert.Equal(t, "row 3 rejected; invalid: no such field: user_name", in.Error())
	assert.Equal(t, 3, in.Index)
	assert.Equal(t, "invalid", in.Reason)

	var d duh.Error
	require.True(t, errors.As(error(in), &d))
	assert.Equal(t, duh.CodeRequestFailed, d.Code())
	assert.Equal(t, "no such field: user_name", d.Message())
	assert.Equal(t, "3", d.Details()["index"])
	assert.Equal(t, "invalid", d.Details()["reason"])
}

func TestNewRemoteRequest(t *testing.T) {
	in := bulkq.NewRemoteRequest(duh.CodeRetryRequest, "quota exceeded for table '%s'", "events")
	assert.Equal(t, duh.CodeRetryRequest, in.Code())
	assert.Equal(t, "quota exceeded for table 'events'", in.Message())
	assert.Contains(t, in.Error(), "quota exceeded for table 'events'")
}

func TestNewUnclassified(t *testing.T) {
	cause := errors.New("connection reset by peer")
	in := bulkq.NewUnclassified(cause)
	assert.Equal(t, "unclassified error: connection reset by peer", in.Error())
	assert.ErrorIs(t, in, cause)
}

func TestTranslate(t *testing.T) {
	require.NoError(t, bulkq.Translate(nil))

	t.Run("ClassifiedErrorsPassThrough", func(t *testing.T) {
		row := bulkq.NewRowInsert(0, "invalid", "bad row")
		assert.Equal(t, error(row), bulkq.Translate(row))

		remote := bulkq.NewRemoteRequest(401, "invalid credentials")
		assert.Equal(t, error(remote), bulkq.Translate(remote))

		unclassified := bulkq.NewUnclassified(errors.New("boom"))
		assert.Equal(t, error(unclassified), bulkq.Translate(unclassified))
	})

	t.Run("CodedErrorsBecomeRemote", func(t *testing.T) {
		coded := duh.NewClientError("no such host", nil, nil)
		var d duh.Error
		require.True(t, errors.As(coded, &d))

		out := bulkq.Translate(coded)
		var remote *bulkq.ErrRemoteRequest
		require.True(t, errors.As(out, &remote))
		assert.Equal(t, d.Code(), remote.Code())
		assert.Equal(t, d.Message(), remote.Message())
	})

	t.Run("UnknownErrorsAreWrapped", func(t *testing.T) {
		cause := errors.New("something broke")
		out := bulkq.Translate(cause)

		var unclassified *bulkq.ErrUnclassified
		require.True(t, errors.As(out, &unclassified))
		assert.ErrorIs(t, out, cause)
	})

	t.Run("WrappedClassifiedErrorsPassThrough", func(t *testing.T) {
		row := bulkq.NewRowInsert(2, "stopped", "row was stopped")
		wrapped := fmt.Errorf("while flushing: %w", row)

		var got *bulkq.ErrRowInsert
		require.True(t, errors.As(bulkq.Translate(wrapped), &got))
		assert.Equal(t, 2, got.Index)
	})
}
