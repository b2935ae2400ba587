package v1

import (
	"fmt"
	"time"
)

// Event is the atomic unit of ingestion: one telemetry record emitted by a
// wearable client, keyed globally by EventID.
//
// The ingestion pipeline operates on the raw JSON object (so the schema
// validator sees exactly what the producer sent, unknown fields included) and
// only decodes into this struct once the object has passed validation.
type Event struct {
	// EventID is the globally unique identifier (UUID) provided by the client.
	// It is the primary deduplication key and is immutable once created.
	EventID string `json:"event_id"`

	// SchemaVersion and EventName identify the event taxonomy.
	SchemaVersion string `json:"schema_version"`
	EventName     string `json:"event_name"`

	// Exactly one of UserID / AnonymousID is expected for attribution.
	// Producers enforce this; storage does not.
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`

	// Optional correlation identifiers.
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// ClientTS is the producer-supplied event time.
	// ServerTS is the ingestion-assigned arrival time, stamped by the
	// normalizer when absent from the input and never overwritten.
	ClientTS time.Time `json:"client_ts"`
	ServerTS time.Time `json:"server_ts"`

	// Descriptive metadata.
	Source      string `json:"source"`
	Environment string `json:"environment"`
	AppVersion  string `json:"app_version,omitempty"`
	Page        string `json:"page,omitempty"`
	Referrer    string `json:"referrer,omitempty"`

	// Payload is the open-ended structured object whose shape depends on
	// EventName. Stored as-is in a JSONB column.
	Payload map[string]interface{} `json:"payload"`
}

// FromObject decodes a raw, schema-valid event object into an Event.
// Callers must validate the object first; FromObject only reports errors for
// shapes the schema already forbids (wrong timestamp format, non-object
// payload), so an error here means the object bypassed validation.
func FromObject(obj map[string]interface{}) (*Event, error) {
	clientTS, err := timeField(obj, "client_ts")
	if err != nil {
		return nil, err
	}
	serverTS, err := timeField(obj, "server_ts")
	if err != nil {
		return nil, err
	}

	payload, ok := obj["payload"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("payload must be an object")
	}

	return &Event{
		EventID:       stringField(obj, "event_id"),
		SchemaVersion: stringField(obj, "schema_version"),
		EventName:     stringField(obj, "event_name"),
		UserID:        stringField(obj, "user_id"),
		AnonymousID:   stringField(obj, "anonymous_id"),
		DeviceID:      stringField(obj, "device_id"),
		SessionID:     stringField(obj, "session_id"),
		ClientTS:      clientTS,
		ServerTS:      serverTS,
		Source:        stringField(obj, "source"),
		Environment:   stringField(obj, "environment"),
		AppVersion:    stringField(obj, "app_version"),
		Page:          stringField(obj, "page"),
		Referrer:      stringField(obj, "referrer"),
		Payload:       payload,
	}, nil
}

// stringField returns the string value for key, or "" when the key is absent,
// null, or not a string. Optional columns treat "" as SQL NULL downstream.
func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func timeField(obj map[string]interface{}, key string) (time.Time, error) {
	raw, ok := obj[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 string", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s is not a valid RFC 3339 timestamp: %w", key, err)
	}
	return t.UTC(), nil
}
