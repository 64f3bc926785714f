package outbox

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	CloudEventsSpecVersion = "1.0"
	CloudEventsContentType = "application/cloudevents+json"
)

var ErrNotCloudEvent = errors.New("outbox: payload is not a cloud event")

// CloudEvent is the envelope the relay publishes. Data is the encoded record
// payload, untouched.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TraceParent     string          `json:"traceparent,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// Envelope wraps a record. The envelope id is the record id so consumers can
// deduplicate redeliveries.
func Envelope(rec EventRecord, source string) CloudEvent {
	return CloudEvent{
		SpecVersion:     CloudEventsSpecVersion,
		ID:              rec.ID,
		Type:            rec.Name + ".v1",
		Source:          source,
		Subject:         rec.Aggregate,
		Time:            rec.OccurredAt,
		DataContentType: "application/json",
		TraceParent:     rec.Headers["traceparent"],
		Data:            json.RawMessage(rec.Payload),
	}
}

func ParseCloudEvent(payload []byte) (CloudEvent, error) {
	var ev CloudEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return CloudEvent{}, err
	}
	if ev.SpecVersion == "" || ev.Type == "" {
		return CloudEvent{}, ErrNotCloudEvent
	}
	return ev, nil
}
