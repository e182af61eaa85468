package comm

import (
	"encoding/json"
	"time"
)

// Event is the envelope broadcast to local websocket clients and
// published to NATS. Data carries one of the typed payloads below.
type Event struct {
	Type string          `json:"type"` // e.g. "card_detected", "payload_sent"
	Data json.RawMessage `json:"data"`
}

const (
	EventCardDetected = "card_detected"
	EventPayloadSent  = "payload_sent"
	EventCycleFailed  = "cycle_failed"
	EventHeartbeat    = "heartbeat"
)

// NewEvent wraps a typed payload into an envelope.
func NewEvent(eventType string, v interface{}) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

// CardDetected is emitted as soon as a card's identity has been read.
type CardDetected struct {
	CycleId    string    `json:"cycle_id"`
	IDm        string    `json:"idm"`
	System     string    `json:"system"`
	Blocks     int       `json:"blocks"`
	DetectedAt time.Time `json:"detected_at"`
}

// PayloadSent is emitted after a successful webhook delivery.
type PayloadSent struct {
	CycleId string    `json:"cycle_id"`
	IDm     string    `json:"idm"`
	Records int       `json:"records"`
	SentAt  time.Time `json:"sent_at"`
}

// CycleFailed is emitted when a read cycle is dropped. Stage is "decode"
// or "send".
type CycleFailed struct {
	CycleId  string    `json:"cycle_id"`
	Stage    string    `json:"stage"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ServiceHeartbeat is emitted periodically on the event stream so
// clients can tell a quiet agent from a dead one.
type ServiceHeartbeat struct {
	ID        string    `json:"id"` // instance id
	Timestamp time.Time `json:"timestamp"`
}
