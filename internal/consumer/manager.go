package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventbus"
	"github.com/iabozaid/airside-operation-center/internal/eventlog"
)

const (
	readBlock = 2 * time.Second
	readCount = 5
	// errBackoff is the pause after a failed read before retrying.
	errBackoff = time.Second
	workerName = "worker-1"
)

// groupBinding is one (consumer group, stream) pair served by its own task.
type groupBinding struct {
	group  string
	stream string
}

// durableBindings are the consumer tasks started against the durable log.
var durableBindings = []groupBinding{
	{group: "cg:read-models", stream: eventlog.GlobalStream},
	{group: "cg:soc-core", stream: eventlog.SimulationStream},
}

// Manager owns the consumer goroutines. One task tails the whole log in demo
// mode; one task per group binding otherwise.
type Manager struct {
	bus        *eventbus.Bus
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager constructs a stopped Manager.
func NewManager(bus *eventbus.Bus, dispatcher *Dispatcher, logger *zap.Logger) *Manager {
	return &Manager{bus: bus, dispatcher: dispatcher, logger: logger}
}

// Start launches the consumer tasks. Calling Start on a running manager is a
// no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)

	if m.bus.InMemory() {
		m.logger.Warn("starting in-memory consumer (no acknowledgement, no redelivery)")
		m.wg.Add(1)
		go m.runMemoryLoop(ctx)
		return
	}

	for _, b := range durableBindings {
		m.logger.Info("starting consumer task",
			zap.String("group", b.group),
			zap.String("stream", b.stream),
		)
		m.wg.Add(1)
		go m.runGroupLoop(ctx, b)
	}
}

// Stop cancels every task, including in-flight blocking reads, and waits for
// completion. Idempotent; safe when never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("consumers stopped")
}

// runMemoryLoop tails the shared vector from the beginning. The demo backend
// has no acks; a failed handler is logged and the cursor still advances.
func (m *Manager) runMemoryLoop(ctx context.Context) {
	defer m.wg.Done()
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return
		}
		entry, err := m.bus.Log().Tail(ctx, eventlog.GlobalStream, cursor, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("demo consumer read failed", zap.Error(err))
			sleep(ctx, errBackoff)
			continue
		}
		if entry == nil {
			continue
		}
		cursor = entry.ID
		if err := m.dispatcher.Dispatch(ctx, entry.Envelope); err != nil {
			m.logger.Error("demo consumer handler failed",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}
}

// runGroupLoop reads batches for one (group, stream) pair and acks each entry
// only after its handler succeeds, so failures are redelivered.
func (m *Manager) runGroupLoop(ctx context.Context, b groupBinding) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := m.bus.Log().GroupRead(ctx, b.stream, b.group, workerName, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("consumer read failed",
				zap.String("group", b.group),
				zap.String("stream", b.stream),
				zap.Error(err),
			)
			sleep(ctx, errBackoff)
			continue
		}
		for _, entry := range entries {
			if err := m.dispatcher.Dispatch(ctx, entry.Envelope); err != nil {
				// No ack: the group redelivers the entry. Invalid
				// messages are called out since retrying cannot fix them.
				m.logger.Error("handler failed, withholding ack",
					zap.String("entry_id", entry.ID),
					zap.String("group", b.group),
					zap.Bool("invalid", errors.Is(err, ErrInvalidMessage)),
					zap.Error(err),
				)
				continue
			}
			if err := m.bus.Log().GroupAck(ctx, b.stream, b.group, entry.ID); err != nil {
				m.logger.Error("ack failed",
					zap.String("entry_id", entry.ID),
					zap.String("group", b.group),
					zap.Error(err),
				)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
