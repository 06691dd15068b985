package journal_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/harbor-io/bulkq"
	"github.com/harbor-io/bulkq/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal(t *testing.T) {
	for _, tc := range []struct {
		Name  string
		Setup func(dir string) bulkq.Journal
	}{
		{
			Name: "Memory",
			Setup: func(string) bulkq.Journal {
				return journal.NewMemory()
			},
		},
		{
			Name: "BoltDB",
			Setup: func(dir string) bulkq.Journal {
				return journal.NewBolt(journal.BoltConfig{StorageDir: dir})
			},
		},
		{
			Name: "BadgerDB",
			Setup: func(dir string) bulkq.Journal {
				return journal.NewBadger(journal.BadgerConfig{StorageDir: dir})
			},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			testJournal(t, tc.Setup)
		})
	}
}

func testJournal(t *testing.T, setup func(dir string) bulkq.Journal) {
	ctx := context.Background()

	t.Run("AppendAndReplay", func(t *testing.T) {
		j := setup(t.TempDir())
		defer func() { require.NoError(t, j.Close(ctx)) }()

		var rows []bulkq.Row
		for i := 0; i < 10; i++ {
			rows = append(rows, bulkq.Row{
				InsertID: fmt.Sprintf("row-%d", i),
				Payload:  fmt.Sprintf("payload-%d", i),
			})
		}
		require.NoError(t, j.Append(ctx, rows[:5]))
		require.NoError(t, j.Append(ctx, rows[5:]))

		// Replay preserves enqueue order
		got, err := j.Replay(ctx)
		require.NoError(t, err)
		require.Len(t, got, 10)
		for i, row := range got {
			assert.Equal(t, fmt.Sprintf("row-%d", i), row.InsertID)
			assert.Equal(t, fmt.Sprintf("payload-%d", i), row.Payload)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		j := setup(t.TempDir())
		defer func() { require.NoError(t, j.Close(ctx)) }()

		require.NoError(t, j.Append(ctx, []bulkq.Row{
			{InsertID: "keep-1", Payload: "first"},
			{InsertID: "drop-1", Payload: "second"},
			{InsertID: "keep-2", Payload: "third"},
			{InsertID: "drop-2", Payload: "fourth"},
		}))
		require.NoError(t, j.Remove(ctx, []string{"drop-1", "drop-2", "never-existed"}))

		got, err := j.Replay(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "keep-1", got[0].InsertID)
		assert.Equal(t, "keep-2", got[1].InsertID)
	})

	t.Run("ReplayEmpty", func(t *testing.T) {
		j := setup(t.TempDir())
		defer func() { require.NoError(t, j.Close(ctx)) }()

		got, err := j.Replay(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("StructuredPayload", func(t *testing.T) {
		j := setup(t.TempDir())
		defer func() { require.NoError(t, j.Close(ctx)) }()

		require.NoError(t, j.Append(ctx, []bulkq.Row{
			{InsertID: "row-1", Payload: map[string]any{"name": "alice", "count": float64(3)}},
		}))

		got, err := j.Replay(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		payload, ok := got[0].Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "alice", payload["name"])
		assert.Equal(t, float64(3), payload["count"])
	})
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j := journal.NewBolt(journal.BoltConfig{StorageDir: dir})
	require.NoError(t, j.Append(ctx, []bulkq.Row{
		{InsertID: "survivor", Payload: "still here"},
	}))
	require.NoError(t, j.Close(ctx))

	// Rows written by a previous process survive a restart
	j = journal.NewBolt(journal.BoltConfig{StorageDir: dir})
	defer func() { require.NoError(t, j.Close(ctx)) }()

	got, err := j.Replay(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "survivor", got[0].InsertID)
	assert.Equal(t, "still here", got[0].Payload)
}

func TestBadgerReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	j := journal.NewBadger(journal.BadgerConfig{StorageDir: dir})
	require.NoError(t, j.Append(ctx, []bulkq.Row{
		{InsertID: "survivor", Payload: "still here"},
	}))
	require.NoError(t, j.Close(ctx))

	j = journal.NewBadger(journal.BadgerConfig{StorageDir: dir})
	defer func() { require.NoError(t, j.Close(ctx)) }()

	got, err := j.Replay(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "survivor", got[0].InsertID)
	assert.Equal(t, "still here", got[0].Payload)
}
