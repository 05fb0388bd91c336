package types

import (
	"encoding/json"
	"time"
)

// NewEnvelope wraps an outbound payload for the wire. Payloads are
// engine-owned structs, so marshaling cannot fail in practice; a payload that
// will not marshal yields an envelope with an empty body rather than a panic.
func NewEnvelope(msgType string, payload interface{}) *Envelope {
	env := &Envelope{Type: msgType, Timestamp: time.Now()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			env.Payload = data
		}
	}
	return env
}
