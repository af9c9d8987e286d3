// Package consumer runs the long-lived side-effect handlers that project
// events from the bus into the write model, with at-least-once delivery and
// per-entry acknowledgement on the durable backend.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iabozaid/airside-operation-center/internal/eventlog"
	"github.com/iabozaid/airside-operation-center/internal/repository"
)

// ErrInvalidMessage marks a structurally invalid event: the entry is not
// acked, so the durable backend redelivers it. The in-memory backend has no
// redelivery; invalids are logged and effectively dropped there.
var ErrInvalidMessage = errors.New("invalid message")

// IncidentProjector is the slice of the incident store the dispatcher writes.
type IncidentProjector interface {
	UpsertFromEvent(ctx context.Context, p repository.IncidentUpsert) error
	UpdateState(ctx context.Context, publicID, toState string) error
}

// TelemetrySink receives fleet telemetry events for forwarding.
type TelemetrySink interface {
	Forward(ctx context.Context, eventType string, payload map[string]any) error
}

// Dispatcher routes decoded envelopes by event type.
type Dispatcher struct {
	incidents IncidentProjector
	fleet     TelemetrySink
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(incidents IncidentProjector, fleet TelemetrySink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		incidents: incidents,
		fleet:     fleet,
		logger:    logger,
		tracer:    otel.Tracer("soc-consumer"),
	}
}

// Dispatch applies the side effect for one envelope. A nil return means the
// entry may be acked. ErrInvalidMessage withholds the ack; any other error is
// transient and also withholds it. Poison messages (known-unrecoverable) are
// logged and acked.
func (d *Dispatcher) Dispatch(ctx context.Context, env eventlog.Envelope) error {
	switch env.EventType {
	case "incident.created":
		return d.upsertIncident(ctx, env)
	case "incident.state_changed":
		return d.updateIncidentState(ctx, env)
	// fleet.asset_status_changed is canonical; the dotted variant is an
	// alias some producers still emit.
	case "fleet.asset_status_changed", "fleet.asset.status_changed", "fleet.robot_patrol_started":
		return d.forwardTelemetry(ctx, env)
	default:
		// Unhandled types are acked without side effects.
		return nil
	}
}

func (d *Dispatcher) upsertIncident(ctx context.Context, env eventlog.Envelope) error {
	ctx, span := d.tracer.Start(ctx, "consumer.incident.upsert")
	defer span.End()

	id := payloadString(env.Payload, "id", "incidentId", "incident_id")
	if id == "" {
		return fmt.Errorf("%w: incident.created without id", ErrInvalidMessage)
	}

	corrID := payloadString(env.Payload, "correlation_id", "correlationId")
	if corrID == "" {
		corrID = env.CorrelationID
	}

	err := d.incidents.UpsertFromEvent(ctx, repository.IncidentUpsert{
		PublicID:      id,
		Type:          payloadStringDefault(env.Payload, "UNKNOWN", "type", "incidentType"),
		Severity:      payloadStringDefault(env.Payload, eventlog.SeverityInfo, "severity"),
		State:         payloadStringDefault(env.Payload, "New", "state"),
		CorrelationID: corrID,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert incident %q: %w", id, err)
	}
	d.logger.Info("incident projected", zap.String("incident_id", id))
	return nil
}

func (d *Dispatcher) updateIncidentState(ctx context.Context, env eventlog.Envelope) error {
	ctx, span := d.tracer.Start(ctx, "consumer.incident.state")
	defer span.End()

	id := payloadString(env.Payload, "incident_id", "incidentId", "id")
	toState := payloadString(env.Payload, "to_state", "toState", "state")
	if id == "" || toState == "" {
		return fmt.Errorf("%w: incident.state_changed without id or state", ErrInvalidMessage)
	}

	if err := d.incidents.UpdateState(ctx, id, toState); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update incident %q state: %w", id, err)
	}
	return nil
}

func (d *Dispatcher) forwardTelemetry(ctx context.Context, env eventlog.Envelope) error {
	assetID := payloadString(env.Payload, "asset_id", "assetId", "id")
	if assetID == "" {
		// Poison: a telemetry event with no asset can never be applied.
		// Ack it so it does not clog the group.
		d.logger.Warn("dropping telemetry event without asset id",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
	if err := d.fleet.Forward(ctx, env.EventType, env.Payload); err != nil {
		return fmt.Errorf("forward telemetry for %q: %w", assetID, err)
	}
	return nil
}

// payloadString returns the first non-empty string value among the keys.
func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func payloadStringDefault(payload map[string]any, def string, keys ...string) string {
	if v := payloadString(payload, keys...); v != "" {
		return v
	}
	return def
}
