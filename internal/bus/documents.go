package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/petrijr/saksflyt/pkg/api"
)

// ErrMalformedDocument is returned when a bus document lacks required fields
// or is not JSON.
var ErrMalformedDocument = errors.New("malformed bus document")

// Document field names. Keys starting with '@' are escaped in gjson/sjson
// paths because '@' introduces a modifier there.
const (
	FieldID        = "@id"
	FieldEventType = "@event_type"
	FieldCreated   = "@opprettet"
	FieldSolution  = "@løsning"
	FieldEventID   = "hendelseId"
	FieldSubject   = "fødselsnummer"
	FieldEpisode   = "periodeId"
	FieldNeeds     = "behov"
	FieldPayload   = "payload"
)

func path(field string) string {
	if len(field) > 0 && field[0] == '@' {
		return `\` + field
	}
	return field
}

// NewDocument builds a message whose body carries the standard header fields
// (@id, @event_type, @opprettet) plus fields.
func NewDocument(topic Topic, eventType, key string, fields map[string]any) (Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	doc := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		doc[k] = v
	}
	doc[FieldID] = id
	doc[FieldEventType] = eventType
	doc[FieldCreated] = now

	body, err := json.Marshal(doc)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s document: %w", eventType, err)
	}
	return Message{ID: id, Topic: topic, Key: key, Body: body, PublishedAt: now}, nil
}

// EventDocument wraps an inbound event for the hendelse topic.
func EventDocument(ev api.Event) (Message, error) {
	fields := map[string]any{
		FieldEventID: ev.ID,
		FieldSubject: ev.Subject,
	}
	if ev.Episode != "" {
		fields[FieldEpisode] = ev.Episode
	}
	if len(ev.Payload) > 0 {
		fields[FieldPayload] = ev.Payload
	}
	return NewDocument(TopicEvent, string(ev.Type), ev.Subject, fields)
}

// DecodeEvent reads an event from a hendelse document.
func DecodeEvent(m Message) (api.Event, error) {
	if !gjson.ValidBytes(m.Body) {
		return api.Event{}, fmt.Errorf("message %s: %w", m.ID, ErrMalformedDocument)
	}
	res := gjson.GetManyBytes(m.Body, path(FieldEventID), path(FieldEventType), path(FieldSubject), path(FieldEpisode), path(FieldPayload), path(FieldCreated))
	ev := api.Event{
		ID:      res[0].String(),
		Type:    api.EventType(res[1].String()),
		Subject: res[2].String(),
		Episode: res[3].String(),
	}
	if ev.ID == "" || ev.Type == "" {
		return api.Event{}, fmt.Errorf("message %s: missing %s or %s: %w", m.ID, FieldEventID, FieldEventType, ErrMalformedDocument)
	}
	if res[4].Exists() {
		ev.Payload = json.RawMessage(res[4].Raw)
	}
	if t, err := time.Parse(time.RFC3339Nano, res[5].String()); err == nil {
		ev.ReceivedAt = t.UTC()
	}
	return ev, nil
}

// NeedDocument bundles the needs of one event into a behov document. Each
// need's parameters are stored under its kind.
func NeedDocument(ev api.Event, needs []api.Need) (Message, error) {
	kinds := make([]string, len(needs))
	fields := map[string]any{
		FieldEventID: ev.ID,
		FieldSubject: ev.Subject,
	}
	if ev.Episode != "" {
		fields[FieldEpisode] = ev.Episode
	}
	for i, n := range needs {
		kinds[i] = string(n.Kind)
		params := n.Params
		if params == nil {
			params = map[string]string{}
		}
		fields[string(n.Kind)] = params
	}
	fields[FieldNeeds] = kinds
	return NewDocument(TopicNeed, "behov", ev.Subject, fields)
}

// NeedKinds lists the kinds requested by a behov document.
func NeedKinds(body []byte) []api.NeedKind {
	var out []api.NeedKind
	gjson.GetBytes(body, path(FieldNeeds)).ForEach(func(_, v gjson.Result) bool {
		out = append(out, api.NeedKind(v.String()))
		return true
	})
	return out
}

// Solve answers a behov document: it copies the document, adds each answer
// under @løsning and addresses the result to the losning topic.
func Solve(need Message, answers map[api.NeedKind]json.RawMessage) (Message, error) {
	body := append([]byte(nil), need.Body...)
	var err error
	for kind, raw := range answers {
		body, err = sjson.SetRawBytes(body, path(FieldSolution)+"."+string(kind), raw)
		if err != nil {
			return Message{}, fmt.Errorf("add %s solution: %w", kind, err)
		}
	}
	return Message{
		ID:          uuid.NewString(),
		Topic:       TopicSolution,
		Key:         need.Key,
		Body:        body,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// SolutionDocument answers needs of an event without the originating behov
// document at hand.
func SolutionDocument(eventID, subject string, answers map[api.NeedKind]json.RawMessage) (Message, error) {
	kinds := make([]string, 0, len(answers))
	solved := make(map[string]json.RawMessage, len(answers))
	for kind, raw := range answers {
		kinds = append(kinds, string(kind))
		solved[string(kind)] = raw
	}
	return NewDocument(TopicSolution, "behov", subject, map[string]any{
		FieldEventID:  eventID,
		FieldSubject:  subject,
		FieldNeeds:    kinds,
		FieldSolution: solved,
	})
}

// DecodeNeeds reads the needs requested by a behov document.
func DecodeNeeds(m Message) ([]api.Need, error) {
	if !gjson.ValidBytes(m.Body) {
		return nil, fmt.Errorf("message %s: %w", m.ID, ErrMalformedDocument)
	}
	eventID := gjson.GetBytes(m.Body, path(FieldEventID)).String()
	kinds := NeedKinds(m.Body)
	if eventID == "" || len(kinds) == 0 {
		return nil, fmt.Errorf("message %s: missing %s or %s: %w", m.ID, FieldEventID, FieldNeeds, ErrMalformedDocument)
	}

	out := make([]api.Need, len(kinds))
	for i, kind := range kinds {
		n := api.Need{EventID: eventID, Kind: kind}
		gjson.GetBytes(m.Body, path(string(kind))).ForEach(func(k, v gjson.Result) bool {
			if n.Params == nil {
				n.Params = make(map[string]string)
			}
			n.Params[k.String()] = v.String()
			return true
		})
		out[i] = n
	}
	return out, nil
}

// DecodeSolutions extracts every answer in a solved behov document.
func DecodeSolutions(m Message) ([]api.Solution, error) {
	if !gjson.ValidBytes(m.Body) {
		return nil, fmt.Errorf("message %s: %w", m.ID, ErrMalformedDocument)
	}
	eventID := gjson.GetBytes(m.Body, path(FieldEventID)).String()
	if eventID == "" {
		return nil, fmt.Errorf("message %s: missing %s: %w", m.ID, FieldEventID, ErrMalformedDocument)
	}

	var out []api.Solution
	gjson.GetBytes(m.Body, path(FieldSolution)).ForEach(func(k, v gjson.Result) bool {
		out = append(out, api.Solution{
			EventID: eventID,
			Kind:    api.NeedKind(k.String()),
			Payload: json.RawMessage(v.Raw),
		})
		return true
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("message %s: no %s: %w", m.ID, FieldSolution, ErrMalformedDocument)
	}
	return out, nil
}

// EventType peeks at @event_type without decoding the document.
func EventType(body []byte) string {
	return gjson.GetBytes(body, path(FieldEventType)).String()
}

// ForEvent matches documents about one event id.
func ForEvent(eventID string) func(Message) bool {
	return func(m Message) bool {
		return gjson.GetBytes(m.Body, path(FieldEventID)).String() == eventID
	}
}

// WithEventType matches documents of one @event_type.
func WithEventType(eventType string) func(Message) bool {
	return func(m Message) bool {
		return EventType(m.Body) == eventType
	}
}
