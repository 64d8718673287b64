package listing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire format for one queued job record. Every JobRecord
// field is always present in the JSON body (absent values encode as null or
// the empty string) so consumers never special-case missing keys. Envelopes
// are immutable once published; the retry count travels in broker headers,
// not in the body.
type Envelope struct {
	MessageID  string    `json:"messageId"`
	Source     string    `json:"source"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	JobRecord
}

func (e Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Source == "" {
		e.Source = e.JobRecord.Source
	}
	return e, nil
}
