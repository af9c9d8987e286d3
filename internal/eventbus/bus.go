// Package eventbus selects an event-log backend at initialization and hides
// the choice behind one publish/tail/history surface.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/config"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
)

// ErrInvalidInput marks publish calls with a missing event type or source.
var ErrInvalidInput = errors.New("invalid input")

// History cursors are tagged with the backend that minted them; clients
// treat the whole value as opaque.
const (
	memCursorPrefix = "mem:"
	logCursorPrefix = "log:"
)

// Bus routes publishes and reads to the backend bound at New. The binding is
// immutable for the process lifetime.
type Bus struct {
	log      eventlog.Log
	memory   *eventlog.MemoryLog // nil when bound to the durable backend
	logger   *zap.Logger
	closeLog func() error
}

// New binds the bus to a backend. Demo mode (DEMO_NO_REDIS) binds in-memory
// directly; otherwise the durable log is probed by creating the required
// consumer groups, falling back to in-memory only when the log is unreachable
// and DEMO_FALLBACK is set.
func New(ctx context.Context, cfg *config.Settings, logger *zap.Logger) (*Bus, error) {
	if cfg.DemoNoRedis {
		logger.Warn("durable log disabled, using in-memory event bus")
		return newMemoryBus(ctx, logger), nil
	}

	rlog, err := eventlog.NewRedisLog(cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	if err := ensureGroups(ctx, rlog); err != nil {
		if errors.Is(err, eventlog.ErrUnavailable) && cfg.DemoFallback {
			logger.Warn("durable log unreachable, falling back to in-memory event bus", zap.Error(err))
			_ = rlog.Close()
			return newMemoryBus(ctx, logger), nil
		}
		_ = rlog.Close()
		return nil, fmt.Errorf("event log init: %w", err)
	}

	logger.Info("event bus bound to durable log",
		zap.Strings("groups", eventlog.ConsumerGroups),
	)
	return &Bus{log: rlog, logger: logger, closeLog: rlog.Close}, nil
}

func newMemoryBus(ctx context.Context, logger *zap.Logger) *Bus {
	mem := eventlog.NewMemoryLog()
	// Group creation cannot fail in memory; keep the same startup contract.
	_ = ensureGroups(ctx, mem)
	return &Bus{log: mem, memory: mem, logger: logger, closeLog: func() error { return nil }}
}

func ensureGroups(ctx context.Context, log eventlog.Log) error {
	for _, stream := range []string{eventlog.GlobalStream, eventlog.SimulationStream} {
		for _, group := range eventlog.ConsumerGroups {
			if err := log.EnsureGroup(ctx, stream, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// InMemory reports whether the bus is bound to the demo backend.
func (b *Bus) InMemory() bool { return b.memory != nil }

// Log exposes the bound backend to the consumer manager.
func (b *Bus) Log() eventlog.Log { return b.log }

// Close releases the backend connection.
func (b *Bus) Close() error { return b.closeLog() }

// PublishParams carries everything a producer supplies. EventType, Payload
// and SourceContext are required; the rest default (severity info, fresh
// correlation id, global stream).
type PublishParams struct {
	EventType     string
	Payload       map[string]any
	SourceContext string
	Severity      string
	CorrelationID string
	EntityRefs    map[string]string
	Stream        string
}

// Publish assigns the event id and timestamp, fills defaults, and appends to
// the target stream. Returns the log-assigned entry id.
func (b *Bus) Publish(ctx context.Context, p PublishParams) (string, error) {
	if strings.TrimSpace(p.EventType) == "" {
		return "", fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.SourceContext) == "" {
		return "", fmt.Errorf("%w: source_context is required", ErrInvalidInput)
	}
	if p.Severity == "" {
		p.Severity = eventlog.SeverityInfo
	}
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	if p.Stream == "" {
		p.Stream = eventlog.GlobalStream
	}

	env := eventlog.Envelope{
		EventID:       uuid.NewString(),
		EventType:     p.EventType,
		SourceContext: p.SourceContext,
		Severity:      p.Severity,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		CorrelationID: p.CorrelationID,
		EntityRefs:    p.EntityRefs,
		Payload:       p.Payload,
	}

	id, err := b.log.Append(ctx, p.Stream, env)
	if err != nil {
		return "", err
	}
	b.logger.Debug("event published",
		zap.String("event_type", p.EventType),
		zap.String("stream", p.Stream),
		zap.String("entry_id", id),
	)
	return id, nil
}

// TailForPush waits up to block for the next global-stream entry after the
// cursor. Timeout is (nil, nil); the push endpoint turns it into a
// keep-alive.
func (b *Bus) TailForPush(ctx context.Context, cursor string, block time.Duration) (*eventlog.Entry, error) {
	return b.log.Tail(ctx, eventlog.GlobalStream, cursor, block)
}

// ListEvents returns a page of history plus a cursor for the next page. With
// no cursor it returns the newest limit entries; the returned cursor then
// pages strictly forward from there.
func (b *Bus) ListEvents(ctx context.Context, cursor string, limit int) ([]eventlog.Envelope, string, error) {
	if b.memory != nil {
		return b.listMemory(cursor, limit)
	}
	return b.listDurable(ctx, cursor, limit)
}

func (b *Bus) listMemory(cursor string, limit int) ([]eventlog.Envelope, string, error) {
	start := -1 // newest page
	if raw, ok := strings.CutPrefix(cursor, memCursorPrefix); ok {
		if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 {
			start = idx
		} else {
			start = 0
		}
	} else if cursor != "" {
		start = 0
	}
	entries, next := b.memory.Page(start, limit)
	return envelopes(entries), memCursorPrefix + strconv.Itoa(next), nil
}

func (b *Bus) listDurable(ctx context.Context, cursor string, limit int) ([]eventlog.Envelope, string, error) {
	after, ok := strings.CutPrefix(cursor, logCursorPrefix)
	if !ok || after == "" {
		entries, err := b.log.Latest(ctx, eventlog.GlobalStream, limit)
		if err != nil {
			return nil, "", err
		}
		next := logCursorPrefix + "0-0"
		if len(entries) > 0 {
			next = logCursorPrefix + entries[len(entries)-1].ID
		}
		return envelopes(entries), next, nil
	}

	entries, err := b.log.Range(ctx, eventlog.GlobalStream, after, limit)
	if err != nil {
		return nil, "", err
	}
	next := logCursorPrefix + after
	if len(entries) > 0 {
		next = logCursorPrefix + entries[len(entries)-1].ID
	}
	return envelopes(entries), next, nil
}

func envelopes(entries []eventlog.Entry) []eventlog.Envelope {
	out := make([]eventlog.Envelope, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Envelope)
	}
	return out
}
