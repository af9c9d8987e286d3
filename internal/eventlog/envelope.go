// Package eventlog defines the canonical event envelope and the append-only
// log contract, with two interchangeable backends: Redis Streams for
// production and an in-process vector for demo mode.
package eventlog

import "encoding/json"

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Envelope is the canonical event record carried on every stream.
//
// EntityRefs and Payload are nested structures; the durable log accepts only
// flat string→string maps, so both are serialized as JSON text on encode.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	SourceContext string            `json:"source_context"`
	Severity      string            `json:"severity"`
	Timestamp     string            `json:"timestamp"`
	CorrelationID string            `json:"correlation_id"`
	EntityRefs    map[string]string `json:"entity_refs"`
	Payload       map[string]any    `json:"payload"`

	// Extra preserves unknown fields seen on the wire so consumers may
	// still read them.
	Extra map[string]string `json:"-"`
}

// Encode flattens the envelope into the string→string shape the durable log
// stores. EntityRefs and Payload become JSON text.
func (e Envelope) Encode() map[string]string {
	refs, _ := json.Marshal(orEmptyRefs(e.EntityRefs))
	payload, _ := json.Marshal(orEmptyPayload(e.Payload))

	flat := map[string]string{
		"event_id":       e.EventID,
		"event_type":     e.EventType,
		"source_context": e.SourceContext,
		"severity":       e.Severity,
		"timestamp":      e.Timestamp,
		"correlation_id": e.CorrelationID,
		"entity_refs":    string(refs),
		"payload":        string(payload),
	}
	for k, v := range e.Extra {
		if _, known := flat[k]; !known {
			flat[k] = v
		}
	}
	return flat
}

// Decode rebuilds an envelope from a wire map. It is idempotent: values may
// be strings, byte slices (as some drivers deliver them), or already-parsed
// structures. Malformed entity_refs/payload decode to empty maps rather than
// failing the whole message.
func Decode(raw map[string]any) Envelope {
	env := Envelope{
		EntityRefs: map[string]string{},
		Payload:    map[string]any{},
		Extra:      map[string]string{},
	}
	for k, v := range raw {
		switch k {
		case "event_id":
			env.EventID = asString(v)
		case "event_type":
			env.EventType = asString(v)
		case "source_context":
			env.SourceContext = asString(v)
		case "severity":
			env.Severity = asString(v)
		case "timestamp":
			env.Timestamp = asString(v)
		case "correlation_id":
			env.CorrelationID = asString(v)
		case "entity_refs":
			env.EntityRefs = decodeRefs(v)
		case "payload":
			env.Payload = decodePayload(v)
		default:
			env.Extra[asString(k)] = asString(v)
		}
	}
	return env
}

// MarshalJSON emits the nested form (parsed entity_refs/payload) plus any
// preserved unknown fields, which is the shape pushed to SSE clients.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"event_id":       e.EventID,
		"event_type":     e.EventType,
		"source_context": e.SourceContext,
		"severity":       e.Severity,
		"timestamp":      e.Timestamp,
		"correlation_id": e.CorrelationID,
		"entity_refs":    orEmptyRefs(e.EntityRefs),
		"payload":        orEmptyPayload(e.Payload),
	}
	for k, v := range e.Extra {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func decodeRefs(v any) map[string]string {
	if m, ok := v.(map[string]string); ok {
		return m
	}
	out := map[string]string{}
	if m, ok := v.(map[string]any); ok {
		for k, val := range m {
			out[k] = asString(val)
		}
		return out
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(asString(v)), &parsed); err != nil {
		return out
	}
	for k, val := range parsed {
		out[k] = asString(val)
	}
	return out
}

func decodePayload(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(asString(v)), &parsed); err != nil {
		return map[string]any{}
	}
	return parsed
}

func orEmptyRefs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyPayload(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
