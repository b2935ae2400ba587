package postgres

import (
	"encoding/json"
	"fmt"

	v1 "github.com/wearlytics/telemetry-ingest/internal/api/v1"
)

// marshalPayload serializes the event payload for the JSONB column.
// A nil payload becomes an empty object; the column is NOT NULL.
func marshalPayload(event *v1.Event) ([]byte, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return payloadJSON, nil
}

// nullString maps "" to SQL NULL for the optional text columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
