package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

// recordPayload is the gob wire form of an EventRecord used by key/value
// stores. Times are stored as Unix nanoseconds.
type recordPayload struct {
	EventID    string
	EventType  string
	Subject    string
	Episode    string
	Payload    []byte
	ReceivedAt int64
	Status     string
	Position   int
	State      []byte
	Version    int64
	Error      string
	CreatedAt  int64
	UpdatedAt  int64
}

// EncodeRecord serializes rec using encoding/gob.
func EncodeRecord(rec *api.EventRecord) ([]byte, error) {
	p := recordPayload{
		EventID:    rec.Event.ID,
		EventType:  string(rec.Event.Type),
		Subject:    rec.Event.Subject,
		Episode:    rec.Event.Episode,
		Payload:    rec.Event.Payload,
		ReceivedAt: rec.Event.ReceivedAt.UnixNano(),
		Status:     string(rec.Status),
		Position:   rec.Position,
		State:      rec.State,
		Version:    rec.Version,
		Error:      rec.Err,
		CreatedAt:  rec.CreatedAt.UnixNano(),
		UpdatedAt:  rec.UpdatedAt.UnixNano(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*api.EventRecord, error) {
	if len(data) == 0 {
		return nil, ErrRecordNotFound
	}
	var p recordPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, err
	}
	rec := &api.EventRecord{
		Event: api.Event{
			ID:         p.EventID,
			Type:       api.EventType(p.EventType),
			Subject:    p.Subject,
			Episode:    p.Episode,
			ReceivedAt: time.Unix(0, p.ReceivedAt).UTC(),
		},
		Status:    api.Status(p.Status),
		Position:  p.Position,
		State:     p.State,
		Version:   p.Version,
		Err:       p.Error,
		CreatedAt: time.Unix(0, p.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, p.UpdatedAt).UTC(),
	}
	if len(p.Payload) > 0 {
		rec.Event.Payload = p.Payload
	}
	return rec, nil
}
