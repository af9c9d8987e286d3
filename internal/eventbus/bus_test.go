package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iabozaid/airside-operation-center/internal/config"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
)

func newMemoryBusT(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(context.Background(), &config.Settings{DemoNoRedis: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func newRedisBusT(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	bus, err := New(context.Background(), &config.Settings{RedisURL: "redis://" + mr.Addr()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func publishN(t *testing.T, bus *Bus, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := bus.Publish(context.Background(), PublishParams{
			EventType:     "incident.created",
			SourceContext: "soc",
			Payload:       map[string]any{"seq": i},
		})
		require.NoError(t, err)
	}
}

func TestPublishRequiresTypeAndSource(t *testing.T) {
	bus := newMemoryBusT(t)

	_, err := bus.Publish(context.Background(), PublishParams{SourceContext: "soc"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = bus.Publish(context.Background(), PublishParams{EventType: "incident.created"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPublishFillsDefaults(t *testing.T) {
	bus := newMemoryBusT(t)

	_, err := bus.Publish(context.Background(), PublishParams{
		EventType:     "incident.created",
		SourceContext: "soc",
	})
	require.NoError(t, err)

	entry, err := bus.TailForPush(context.Background(), "0", 0)
	require.NoError(t, err)
	require.NotNil(t, entry)

	env := entry.Envelope
	assert.Equal(t, eventlog.SeverityInfo, env.Severity)
	assert.NotEmpty(t, env.EventID)
	_, err = uuid.Parse(env.CorrelationID)
	assert.NoError(t, err, "missing correlation id must default to a fresh uuid")
	_, err = time.Parse(time.RFC3339Nano, env.Timestamp)
	assert.NoError(t, err)
}

func TestPublishKeepsCallerValues(t *testing.T) {
	bus := newMemoryBusT(t)

	_, err := bus.Publish(context.Background(), PublishParams{
		EventType:     "incident.created",
		SourceContext: "soc",
		Severity:      eventlog.SeverityCritical,
		CorrelationID: "corr-1",
		EntityRefs:    map[string]string{"incidentId": "I1"},
	})
	require.NoError(t, err)

	entry, err := bus.TailForPush(context.Background(), "0", 0)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, eventlog.SeverityCritical, entry.Envelope.Severity)
	assert.Equal(t, "corr-1", entry.Envelope.CorrelationID)
	assert.Equal(t, "I1", entry.Envelope.EntityRefs["incidentId"])
}

func TestListEventsDefaultReturnsNewest(t *testing.T) {
	bus := newMemoryBusT(t)
	publishN(t, bus, 10)

	items, next, err := bus.ListEvents(context.Background(), "", 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	// The demo backend stores envelopes verbatim, so the int survives.
	assert.Equal(t, 7, items[0].Payload["seq"])
	assert.Equal(t, 9, items[2].Payload["seq"])
	assert.NotEmpty(t, next)
}

func TestListEventsPagesFullHistory(t *testing.T) {
	bus := newMemoryBusT(t)
	publishN(t, bus, 120)

	var seen []eventlog.Envelope
	cursor := "mem:0"
	for page := 0; page < 3; page++ {
		items, next, err := bus.ListEvents(context.Background(), cursor, 50)
		require.NoError(t, err)
		seen = append(seen, items...)
		cursor = next
	}
	require.Len(t, seen, 120)
	for i, env := range seen {
		assert.Equal(t, i, env.Payload["seq"], "event %d out of order", i)
	}

	// Past the end: empty page, cursor stays put.
	items, next, err := bus.ListEvents(context.Background(), cursor, 50)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, cursor, next)
}

func TestListEventsDurablePagesFullHistory(t *testing.T) {
	bus := newRedisBusT(t)
	publishN(t, bus, 120)

	var seen []eventlog.Envelope
	cursor := "log:0-0"
	for page := 0; page < 3; page++ {
		items, next, err := bus.ListEvents(context.Background(), cursor, 50)
		require.NoError(t, err)
		seen = append(seen, items...)
		cursor = next
	}
	require.Len(t, seen, 120)
	for i, env := range seen {
		assert.Equal(t, fmt.Sprint(i), fmt.Sprint(env.Payload["seq"]), "event %d out of order", i)
	}
}

func TestListEventsDurableDefaultNewest(t *testing.T) {
	bus := newRedisBusT(t)
	publishN(t, bus, 5)

	items, next, err := bus.ListEvents(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, fmt.Sprint(3), fmt.Sprint(items[0].Payload["seq"]))
	assert.Contains(t, next, "log:")
}

func TestNewEnsuresConsumerGroups(t *testing.T) {
	bus := newRedisBusT(t)

	// Every declared group must exist on both streams: a group read on any
	// of them succeeds instead of raising NOGROUP.
	for _, stream := range []string{eventlog.GlobalStream, eventlog.SimulationStream} {
		for _, group := range eventlog.ConsumerGroups {
			_, err := bus.Log().GroupRead(context.Background(), stream, group, "probe", 1, 0)
			assert.NoError(t, err, "group %s on %s", group, stream)
		}
	}
}

func TestNewFallsBackWhenLogUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	bus, err := New(context.Background(), &config.Settings{
		RedisURL:     "redis://" + addr,
		DemoFallback: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	assert.True(t, bus.InMemory())
}

func TestNewFailsWithoutFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), &config.Settings{RedisURL: "redis://" + addr}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, eventlog.ErrUnavailable)
}

func TestTailForPushResumesAfterCursor(t *testing.T) {
	bus := newMemoryBusT(t)
	publishN(t, bus, 3)

	first, err := bus.TailForPush(context.Background(), "0", 0)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := bus.TailForPush(context.Background(), first.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Envelope.Payload["seq"])
}
