package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Envelope{
		EventID:       "e-1",
		EventType:     "incident.created",
		SourceContext: "soc",
		Severity:      SeverityCritical,
		Timestamp:     "2026-03-01T12:00:00Z",
		CorrelationID: "c-1",
		EntityRefs:    map[string]string{"incidentId": "I1"},
		Payload:       map[string]any{"id": "I1", "type": "PERIMETER_BREACH"},
	}

	flat := env.Encode()
	assert.Equal(t, "incident.created", flat["event_type"])
	assert.JSONEq(t, `{"incidentId":"I1"}`, flat["entity_refs"])

	raw := make(map[string]any, len(flat))
	for k, v := range flat {
		raw[k] = v
	}
	got := Decode(raw)

	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.Severity, got.Severity)
	assert.Equal(t, env.EntityRefs, got.EntityRefs)
	assert.Equal(t, "I1", got.Payload["id"])
	assert.Equal(t, "PERIMETER_BREACH", got.Payload["type"])
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	got := Decode(map[string]any{
		"event_type": "incident.created",
		"payload":    `{"id":"I9"}`,
		"trace_hint": "abc",
	})

	assert.Equal(t, "abc", got.Extra["trace_hint"])

	// Unknown fields survive a re-encode and the JSON view.
	flat := got.Encode()
	assert.Equal(t, "abc", flat["trace_hint"])

	body, err := json.Marshal(got)
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "abc", view["trace_hint"])
}

func TestDecodeToleratesBytesAndParsedValues(t *testing.T) {
	got := Decode(map[string]any{
		"event_id":    []byte("e-2"),
		"event_type":  "fleet.asset_status_changed",
		"entity_refs": map[string]any{"assetId": "A1"},
		"payload":     map[string]any{"asset_id": "A1", "battery": 41.5},
	})

	assert.Equal(t, "e-2", got.EventID)
	assert.Equal(t, map[string]string{"assetId": "A1"}, got.EntityRefs)
	assert.Equal(t, 41.5, got.Payload["battery"])
}

func TestDecodeMalformedPayloadYieldsEmptyMaps(t *testing.T) {
	got := Decode(map[string]any{
		"event_type":  "incident.created",
		"entity_refs": "{not json",
		"payload":     "{not json",
	})

	assert.NotNil(t, got.EntityRefs)
	assert.NotNil(t, got.Payload)
	assert.Empty(t, got.EntityRefs)
	assert.Empty(t, got.Payload)
}

func TestDecodeIsIdempotent(t *testing.T) {
	env := Envelope{
		EventID:   "e-3",
		EventType: "ticket.created",
		Payload:   map[string]any{"ticket_id": "t-1"},
	}

	once := Decode(toAnyMap(env.Encode()))
	twice := Decode(toAnyMap(once.Encode()))

	assert.Equal(t, once.EventID, twice.EventID)
	assert.Equal(t, once.Payload, twice.Payload)
	assert.Equal(t, once.EntityRefs, twice.EntityRefs)
}

func TestMarshalJSONEmitsNestedShape(t *testing.T) {
	env := Envelope{
		EventID:    "e-4",
		EventType:  "incident.state_changed",
		EntityRefs: map[string]string{"incidentId": "I3"},
		Payload:    map[string]any{"to_state": "Triage"},
	}

	body, err := json.Marshal(env)
	require.NoError(t, err)

	var view struct {
		EntityRefs map[string]string `json:"entity_refs"`
		Payload    map[string]any    `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "I3", view.EntityRefs["incidentId"])
	assert.Equal(t, "Triage", view.Payload["to_state"])
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
