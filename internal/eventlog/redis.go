package eventlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLog is the durable backend: one Redis Stream per event stream,
// consumer groups for the side-effect handlers.
type RedisLog struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisLog parses the connection URL and constructs the backend. The
// connection itself is lazy; EnsureGroup at startup is the reachability probe.
func NewRedisLog(url string, logger *zap.Logger) (*RedisLog, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrFatal, err)
	}
	return &RedisLog{rdb: redis.NewClient(opt), logger: logger}, nil
}

// Client exposes the underlying connection for health checks.
func (l *RedisLog) Client() *redis.Client { return l.rdb }

// Close releases the connection pool.
func (l *RedisLog) Close() error { return l.rdb.Close() }

// Append writes the encoded envelope with XADD and returns the generated
// entry id.
func (l *RedisLog) Append(ctx context.Context, stream string, env Envelope) (string, error) {
	values := make(map[string]interface{}, 8)
	for k, v := range env.Encode() {
		values[k] = v
	}
	id, err := l.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", l.classify("xadd", err)
	}
	return id, nil
}

// Tail blocks up to block for the next entry strictly after the cursor.
// Timeout is (nil, nil).
func (l *RedisLog) Tail(ctx context.Context, stream, from string, block time.Duration) (*Entry, error) {
	if from == "" {
		from = CursorTail
	}
	if isStartCursor(from) {
		from = "0"
	}
	if block <= 0 {
		block = -1 // non-blocking XREAD
	}
	res, err := l.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, from},
		Count:   1,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, l.classify("xread", err)
	}
	for _, s := range res {
		for _, msg := range s.Messages {
			e := toEntry(msg)
			return &e, nil
		}
	}
	return nil, nil
}

// Range scans forward, exclusive of the cursor unless a start sentinel is
// passed.
func (l *RedisLog) Range(ctx context.Context, stream, after string, limit int) ([]Entry, error) {
	start := CursorStart
	if !isStartCursor(after) {
		start = "(" + after
	}
	msgs, err := l.rdb.XRangeN(ctx, stream, start, "+", int64(limit)).Result()
	if err != nil {
		return nil, l.classify("xrange", err)
	}
	return toEntries(msgs), nil
}

// Latest returns the newest limit entries in chronological order.
func (l *RedisLog) Latest(ctx context.Context, stream string, limit int) ([]Entry, error) {
	msgs, err := l.rdb.XRevRangeN(ctx, stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, l.classify("xrevrange", err)
	}
	entries := toEntries(msgs)
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// GroupRead reads entries not yet delivered to the group, waiting up to
// block. Timeout is an empty result with a nil error.
func (l *RedisLog) GroupRead(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	res, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, l.classify("xreadgroup", err)
	}
	var entries []Entry
	for _, s := range res {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

// GroupAck advances the group offset past the entry.
func (l *RedisLog) GroupAck(ctx context.Context, stream, group, id string) error {
	if err := l.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return l.classify("xack", err)
	}
	return nil
}

// EnsureGroup creates the stream and the group at offset 0 if either is
// missing. Idempotent: BUSYGROUP is success.
func (l *RedisLog) EnsureGroup(ctx context.Context, stream, group string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return l.classify("xgroup create", err)
	}
	return nil
}

// classify maps driver errors onto the shared error kinds.
func (l *RedisLog) classify(op string, err error) error {
	msg := err.Error()
	var kind error
	switch {
	case strings.Contains(msg, "NOGROUP"):
		kind = ErrNotFound
	case strings.Contains(msg, "NOAUTH"), strings.Contains(msg, "WRONGPASS"), strings.Contains(msg, "NOPERM"):
		kind = ErrFatal
	case isConnErr(err):
		kind = ErrUnavailable
	default:
		kind = ErrTransient
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

func isConnErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "client is closed") ||
		strings.Contains(msg, "no such host")
}

func toEntry(msg redis.XMessage) Entry {
	return Entry{ID: msg.ID, Envelope: Decode(msg.Values)}
}

func toEntries(msgs []redis.XMessage) []Entry {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toEntry(m))
	}
	return out
}
