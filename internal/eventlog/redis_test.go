package eventlog

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedisLog(t *testing.T) *RedisLog {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := NewRedisLog("redis://"+mr.Addr(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func appendRedisN(t *testing.T, l *RedisLog, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := l.Append(context.Background(), GlobalStream, Envelope{
			EventID:   fmt.Sprintf("e-%d", i),
			EventType: "incident.created",
			Payload:   map[string]any{"seq": float64(i)},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestRedisParseURLFailureIsFatal(t *testing.T) {
	_, err := NewRedisLog("not-a-url", zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrFatal)
}

func TestRedisAppendAndRange(t *testing.T) {
	l := newTestRedisLog(t)
	ids := appendRedisN(t, l, 3)

	entries, err := l.Range(context.Background(), GlobalStream, CursorStart, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[0], entries[0].ID)
	assert.Equal(t, "e-0", entries[0].Envelope.EventID)
	assert.Equal(t, float64(0), entries[0].Envelope.Payload["seq"])

	// Exclusive after a concrete id.
	rest, err := l.Range(context.Background(), GlobalStream, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, ids[1], rest[0].ID)
}

func TestRedisLatestChronological(t *testing.T) {
	l := newTestRedisLog(t)
	ids := appendRedisN(t, l, 5)

	entries, err := l.Latest(context.Background(), GlobalStream, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[3], entries[0].ID)
	assert.Equal(t, ids[4], entries[1].ID)
}

func TestRedisTailNonBlocking(t *testing.T) {
	l := newTestRedisLog(t)
	ids := appendRedisN(t, l, 2)

	// Start sentinel reads from the beginning.
	entry, err := l.Tail(context.Background(), GlobalStream, "0", 0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ids[0], entry.ID)

	// After a concrete id, strictly the next one.
	entry, err = l.Tail(context.Background(), GlobalStream, ids[0], 0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, ids[1], entry.ID)

	// Caught up: nothing to return.
	entry, err = l.Tail(context.Background(), GlobalStream, ids[1], 0)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisEnsureGroupIdempotent(t *testing.T) {
	l := newTestRedisLog(t)
	ctx := context.Background()

	require.NoError(t, l.EnsureGroup(ctx, GlobalStream, "cg:soc-core"))
	require.NoError(t, l.EnsureGroup(ctx, GlobalStream, "cg:soc-core"))
}

func TestRedisGroupReadAndAck(t *testing.T) {
	l := newTestRedisLog(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureGroup(ctx, GlobalStream, "cg:soc-core"))
	ids := appendRedisN(t, l, 2)

	entries, err := l.GroupRead(ctx, GlobalStream, "cg:soc-core", "worker-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[0], entries[0].ID)

	require.NoError(t, l.GroupAck(ctx, GlobalStream, "cg:soc-core", ids[0]))
	require.NoError(t, l.GroupAck(ctx, GlobalStream, "cg:soc-core", ids[1]))

	// Everything delivered and acked: the next read is empty.
	entries, err = l.GroupRead(ctx, GlobalStream, "cg:soc-core", "worker-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisGroupReadMissingGroupIsNotFound(t *testing.T) {
	l := newTestRedisLog(t)
	appendRedisN(t, l, 1)

	_, err := l.GroupRead(context.Background(), GlobalStream, "cg:missing", "worker-1", 10, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisUnreachableIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	l, err := NewRedisLog("redis://"+addr, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	mr.Close()

	_, err = l.Append(context.Background(), GlobalStream, Envelope{EventID: "e"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisEnvelopeRoundTripThroughStream(t *testing.T) {
	l := newTestRedisLog(t)
	ctx := context.Background()

	in := Envelope{
		EventID:       "e-rt",
		EventType:     "ticket.created",
		SourceContext: "ticketing",
		Severity:      SeverityWarning,
		Timestamp:     "2026-03-01T12:00:00Z",
		CorrelationID: "c-rt",
		EntityRefs:    map[string]string{"ticketId": "t-1"},
		Payload:       map[string]any{"status": "Open"},
	}
	id, err := l.Append(ctx, GlobalStream, in)
	require.NoError(t, err)

	entries, err := l.Range(ctx, GlobalStream, CursorStart, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	got := entries[0].Envelope
	assert.Equal(t, in.EventID, got.EventID)
	assert.Equal(t, in.Severity, got.Severity)
	assert.Equal(t, in.EntityRefs, got.EntityRefs)
	assert.Equal(t, "Open", got.Payload["status"])
}
