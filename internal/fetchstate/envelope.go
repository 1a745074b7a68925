package fetchstate

import (
	"bytes"
	"encoding/json"
)

// StatusEmpty is the envelope status marker for an explicitly empty result.
const StatusEmpty = "empty"

// envelope holds the metadata fields a payload may carry alongside or
// instead of raw data.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// parseEnvelope reads the envelope fields of raw. Payloads that are not JSON
// objects, or whose metadata fields have unexpected types, are bare values
// and yield the zero envelope.
func parseEnvelope(raw json.RawMessage) envelope {
	var env envelope
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return envelope{}
	}
	return env
}

// empty reports whether the envelope signals an empty result. The status
// marker and a zero-length data array are independent triggers.
func (e envelope) empty() bool {
	if e.Status == StatusEmpty {
		return true
	}
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || data[0] != '[' {
		return false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return false
	}
	return len(items) == 0
}
