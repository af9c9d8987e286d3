package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is the demo-mode backend: a single append-only vector of entries
// guarded by a mutex and a condition variable. All streams share the vector;
// consumer-group offsets are still tracked per (stream, group).
//
// The condition variable is owned by the instance that created it. Re-init of
// the bus constructs a fresh MemoryLog, discarding prior state, so waiters
// from a previous lifecycle can never touch the new one.
type MemoryLog struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries []Entry
	// offsets maps stream+group to the vector index of the next
	// unacknowledged entry.
	offsets map[string]int
}

// NewMemoryLog constructs an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{offsets: map[string]int{}}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Append adds the envelope to the vector and wakes every waiter. The stream
// argument is accepted for contract parity; demo mode keeps one vector.
func (l *MemoryLog) Append(_ context.Context, _ string, env Envelope) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), len(l.entries))
	l.entries = append(l.entries, Entry{ID: id, Envelope: env})
	l.cond.Broadcast()
	return id, nil
}

// Tail returns the first entry strictly after the cursor, waiting up to block
// for one to arrive. Timeout is (nil, nil). An unknown concrete cursor resets
// to the beginning, which keeps operator reconnects replay-safe after a
// restart cleared memory.
func (l *MemoryLog) Tail(ctx context.Context, _ string, from string, block time.Duration) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.resolveCursorLocked(from)
	if start < len(l.entries) {
		e := l.entries[start]
		return &e, nil
	}
	if block <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(block)
	wake := time.AfterFunc(block, l.cond.Broadcast)
	defer wake.Stop()
	unhook := context.AfterFunc(ctx, l.cond.Broadcast)
	defer unhook()

	for start >= len(l.entries) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		l.cond.Wait()
	}
	e := l.entries[start]
	return &e, nil
}

// Range returns up to limit entries strictly after the cursor (inclusive of
// the start for the start sentinels).
func (l *MemoryLog) Range(_ context.Context, _ string, after string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sliceLocked(l.resolveCursorLocked(after), limit), nil
}

// Latest returns the newest limit entries in chronological order.
func (l *MemoryLog) Latest(_ context.Context, _ string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}
	return l.sliceLocked(start, limit), nil
}

// GroupRead returns up to count entries strictly after the group offset,
// waiting up to block if none are available. The offset only advances on ack,
// so unacknowledged entries are re-delivered on the next read.
func (l *MemoryLog) GroupRead(ctx context.Context, stream, group, _ string, count int, block time.Duration) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := groupKey(stream, group)
	if _, ok := l.offsets[key]; !ok {
		return nil, fmt.Errorf("%w: group %q on %q", ErrNotFound, group, stream)
	}

	if l.offsets[key] >= len(l.entries) && block > 0 {
		deadline := time.Now().Add(block)
		wake := time.AfterFunc(block, l.cond.Broadcast)
		defer wake.Stop()
		unhook := context.AfterFunc(ctx, l.cond.Broadcast)
		defer unhook()

		for l.offsets[key] >= len(l.entries) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !time.Now().Before(deadline) {
				return nil, nil
			}
			l.cond.Wait()
		}
	}
	return l.sliceLocked(l.offsets[key], count), nil
}

// GroupAck advances the group offset past the given entry, never backwards.
// Acking an id the log no longer knows is a no-op, mirroring XACK.
func (l *MemoryLog) GroupAck(_ context.Context, stream, group, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := groupKey(stream, group)
	if _, ok := l.offsets[key]; !ok {
		return fmt.Errorf("%w: group %q on %q", ErrNotFound, group, stream)
	}
	for i, e := range l.entries {
		if e.ID == id {
			if i+1 > l.offsets[key] {
				l.offsets[key] = i + 1
			}
			return nil
		}
	}
	return nil
}

// EnsureGroup registers the group with offset 0 if absent. Idempotent.
func (l *MemoryLog) EnsureGroup(_ context.Context, stream, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := groupKey(stream, group)
	if _, ok := l.offsets[key]; !ok {
		l.offsets[key] = 0
	}
	return nil
}

// resolveCursorLocked maps a cursor to the index of the first entry to
// return. Identity match on the entry id, not lexicographic comparison.
func (l *MemoryLog) resolveCursorLocked(cursor string) int {
	switch {
	case cursor == CursorTail:
		return len(l.entries)
	case isStartCursor(cursor):
		return 0
	}
	for i, e := range l.entries {
		if e.ID == cursor {
			return i + 1
		}
	}
	return 0
}

func (l *MemoryLog) sliceLocked(start, limit int) []Entry {
	if start >= len(l.entries) || limit <= 0 {
		return nil
	}
	end := start + limit
	if end > len(l.entries) {
		end = len(l.entries)
	}
	out := make([]Entry, end-start)
	copy(out, l.entries[start:end])
	return out
}

func groupKey(stream, group string) string {
	return stream + "/" + group
}

// Page returns up to limit entries starting at the given vector index
// (inclusive) plus the index to resume from. A negative start means "the
// newest limit entries". Backs the index-based history cursor in demo mode.
func (l *MemoryLog) Page(start, limit int) ([]Entry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if start < 0 {
		start = len(l.entries) - limit
		if start < 0 {
			start = 0
		}
	}
	if start > len(l.entries) {
		start = len(l.entries)
	}
	out := l.sliceLocked(start, limit)
	return out, start + len(out)
}
