package api

import (
	"encoding/json"
	"time"
)

// EventType selects which pipeline handles an event.
type EventType string

// NeedKind tags a need and the solution that answers it.
type NeedKind string

// Event is an inbound trigger for a pipeline run. It is never mutated after
// ingestion.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Subject    string          `json:"subject"`
	Episode    string          `json:"episode,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// DecodePayload unmarshals the event payload into v.
func (e Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Need is a typed request for external information, tagged with the event
// that raised it.
type Need struct {
	EventID string            `json:"event_id"`
	Kind    NeedKind          `json:"kind"`
	Params  map[string]string `json:"params,omitempty"`
}

// Solution answers a Need. It carries the same event id and kind.
type Solution struct {
	EventID string          `json:"event_id"`
	Kind    NeedKind        `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Status is the lifecycle state of an event pipeline.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further processing happens for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventRecord is the persisted progress of one event.
type EventRecord struct {
	Event Event

	Status Status

	// Position is the index of the first incomplete top-level step.
	// It equals the number of pipeline steps once the event has completed.
	Position int

	// State is the serialized ExecutionContext.
	State []byte

	// Version increases by one on every successful update and guards
	// concurrent writers.
	Version int64

	// Err holds the failure message for StatusFailed.
	Err string

	CreatedAt time.Time
	UpdatedAt time.Time
}
