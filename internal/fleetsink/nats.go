package fleetsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamFleetTelemetry is the durable stream the telemetry pipeline
	// consumes from.
	StreamFleetTelemetry = "FLEET_TELEMETRY"
	// subjectPrefix is the subject hierarchy telemetry is published under.
	subjectPrefix = "fleet.telemetry."
)

// NATSSink publishes telemetry onto a JetStream stream.
type NATSSink struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSSink connects to NATS, initialises JetStream and idempotently
// provisions the telemetry stream.
func NewNATSSink(url string, logger *zap.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	s := &NATSSink{conn: nc, js: js, logger: logger}
	if err := s.provisionStream(); err != nil {
		nc.Close()
		return nil, err
	}
	logger.Info("NATS telemetry sink connected", zap.String("url", url))
	return s, nil
}

func (s *NATSSink) provisionStream() error {
	_, err := s.js.StreamInfo(StreamFleetTelemetry)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to check stream info: %w", err)
	}
	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:      StreamFleetTelemetry,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	s.logger.Info("NATS stream provisioned", zap.String("stream", StreamFleetTelemetry))
	return nil
}

// Forward publishes one telemetry event. The event type becomes the subject
// suffix (dots collapse into the hierarchy naturally).
func (s *NATSSink) Forward(ctx context.Context, eventType string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"payload":    payload,
	})
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}
	subject := subjectPrefix + strings.ReplaceAll(eventType, " ", "_")
	if _, err := s.js.Publish(subject, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	return nil
}

// Close drains the connection so in-flight publishes are flushed; falls back
// to Close if the drain itself errors.
func (s *NATSSink) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}
