// Package fleetsink forwards fleet telemetry events to the downstream
// telemetry pipeline over NATS JetStream, with a log-only fallback for
// deployments without a broker.
package fleetsink

import (
	"context"

	"go.uber.org/zap"
)

// Sink receives fleet telemetry extracted from the event bus.
type Sink interface {
	Forward(ctx context.Context, eventType string, payload map[string]any) error
}

// LogSink records telemetry in the service log only. Used when NATS_URL is
// not configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Forward logs the event and drops it.
func (s *LogSink) Forward(_ context.Context, eventType string, payload map[string]any) error {
	s.logger.Info("fleet telemetry (no broker configured)",
		zap.String("event_type", eventType),
		zap.Any("payload", payload),
	)
	return nil
}
