package ingestion

import "time"

// StampServerTS fills in the server-arrival timestamp on a raw event object:
// server_ts is set to now (UTC, RFC 3339) only when the key is absent, and is
// never overwritten when the producer supplied one. All other fields pass
// through untouched. Returns whether the object was stamped.
//
// Normalization runs before validation so that server_ts satisfies the
// schema's required-field rule for events that omit it.
func StampServerTS(obj map[string]interface{}, now time.Time) bool {
	if _, present := obj["server_ts"]; present {
		return false
	}
	obj["server_ts"] = now.UTC().Format(time.RFC3339Nano)
	return true
}
