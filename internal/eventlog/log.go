package eventlog

import (
	"context"
	"errors"
	"time"
)

// Stream keys.
const (
	GlobalStream     = "stream:events:global"
	SimulationStream = "stream:events:simulation"
)

// Cursor sentinels. A concrete cursor is an entry id previously returned by
// the log; both backends also accept "0" and "0-0" as aliases for CursorStart.
const (
	// CursorTail means "only entries appended after subscription".
	CursorTail = "$"
	// CursorStart means "from the beginning of the stream".
	CursorStart = "-"
)

// ConsumerGroups are created on both streams at startup if missing.
var ConsumerGroups = []string{
	"cg:soc-core",
	"cg:read-models",
	"cg:audit",
	"cg:analytics",
	"cg:frontend-fanout",
}

// Error kinds surfaced by both backends. Callers branch with errors.Is.
var (
	// ErrUnavailable: the backing store is unreachable.
	ErrUnavailable = errors.New("event log unavailable")
	// ErrNotFound: unknown stream or consumer group.
	ErrNotFound = errors.New("stream or group not found")
	// ErrTransient: retryable backend failure.
	ErrTransient = errors.New("transient event log error")
	// ErrFatal: configuration or authentication failure; retrying won't help.
	ErrFatal = errors.New("fatal event log error")
)

// Entry is one (entry-id, envelope) pair on a stream. Entry ids are assigned
// by the log and totally ordered within a stream only.
type Entry struct {
	ID       string
	Envelope Envelope
}

// Log is the narrow capability both backends implement.
//
// Tail and GroupRead wait at most block for a new entry and signal timeout by
// returning no entries and a nil error; they never block indefinitely.
type Log interface {
	Append(ctx context.Context, stream string, env Envelope) (string, error)
	Tail(ctx context.Context, stream, from string, block time.Duration) (*Entry, error)
	Range(ctx context.Context, stream, after string, limit int) ([]Entry, error)
	Latest(ctx context.Context, stream string, limit int) ([]Entry, error)
	GroupRead(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Entry, error)
	GroupAck(ctx context.Context, stream, group, id string) error
	EnsureGroup(ctx context.Context, stream, group string) error
}

// isStartCursor reports whether the cursor addresses the beginning of a
// stream (inclusive).
func isStartCursor(c string) bool {
	return c == "" || c == CursorStart || c == "0" || c == "0-0"
}
