package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/rigwatch/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	rec := history.Record{Worker: "xmrig", RunID: "run-1", PID: 12345, State: "middle"}
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}))

	rec.State = "dead"
	rec.Detail = "Successful"
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: rec}))

	n, err := sink.Count(ctx, "xmrig")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	evt := history.Event{Type: history.EventDecision, OccurredAt: time.Now().UTC(), Record: history.Record{Worker: "xvb", State: "alive", Detail: "donor"}}
	require.NoError(t, sink.Send(ctx, evt))

	n, err := sink.Count(ctx, "xvb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: history.Record{Worker: "node"}})
	assert.Error(t, err)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
