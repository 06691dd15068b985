package bulkq

import (
	"context"
	"errors"
	"testing"

	"github.com/kapetan-io/tackle/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultResolve(t *testing.T) {
	res := newResult()
	assert.Equal(t, -1, res.Index())

	select {
	case <-res.Done():
		t.Fatal("result should be pending")
	default:
	}

	res.ForceResolve("the value")

	select {
	case <-res.Done():
	default:
		t.Fatal("result should be terminal")
	}
	assert.Equal(t, "the value", res.Value())
	assert.NoError(t, res.Err())
}

func TestResultReject(t *testing.T) {
	res := newResult()
	boom := errors.New("boom")
	res.ForceReject(boom)

	value, err := res.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Nil(t, value)
}

func TestResultDoubleCompletion(t *testing.T) {
	res := newResult()
	res.ForceResolve("first")

	// The first completion wins; later completions never change a
	// terminal result.
	res.ForceResolve("second")
	res.ForceReject(errors.New("too late"))

	assert.Equal(t, "first", res.Value())
	assert.NoError(t, res.Err())

	res = newResult()
	boom := errors.New("boom")
	res.ForceReject(boom)
	res.ForceResolve("too late")
	res.ForceReject(errors.New("also too late"))

	assert.ErrorIs(t, res.Err(), boom)
	assert.Nil(t, res.Value())
}

func TestResultWaitContext(t *testing.T) {
	res := newResult()
	ctx, cancel := context.WithTimeout(context.Background(), 20*clock.Millisecond)
	defer cancel()

	_, err := res.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A completion after the wait timed out still lands.
	res.ForceResolve("late but valid")
	value, err := res.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late but valid", value)
}

func TestResultConcurrentWaiters(t *testing.T) {
	res := newResult()
	done := make(chan any, 5)
	for i := 0; i < 5; i++ {
		go func() {
			value, _ := res.Wait(context.Background())
			done <- value
		}()
	}

	res.ForceResolve(42)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 42, <-done)
	}
}
