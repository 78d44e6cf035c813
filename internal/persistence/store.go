package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

var (
	// ErrRecordNotFound is returned when no record exists for an event id.
	ErrRecordNotFound = errors.New("event record not found")

	// ErrRecordExists is returned by Create when the event was seen before.
	ErrRecordExists = errors.New("event record already exists")
)

// RecordFilter is used to select records from the store.
// Zero values mean "no filter" for that field.
type RecordFilter struct {
	EventType api.EventType
	Status    api.Status
}

// RecordStore persists the (position, state) progress of events.
type RecordStore interface {
	// Create stores a new record. It returns ErrRecordExists if a record for
	// the event id is already present.
	Create(ctx context.Context, rec *api.EventRecord) error

	// Get returns the record for an event id or ErrRecordNotFound.
	Get(ctx context.Context, eventID string) (*api.EventRecord, error)

	// Update replaces a record if its stored version still equals
	// rec.Version. On success the stored version and rec.Version are both
	// incremented; otherwise api.ErrPersistenceConflict is returned.
	Update(ctx context.Context, rec *api.EventRecord) error

	List(ctx context.Context, filter RecordFilter) ([]*api.EventRecord, error)

	// TryAcquireLease attempts to acquire (or re-acquire) the single-writer
	// lease on an event. If the event is currently leased by another owner
	// and the lease has not expired, it returns acquired=false, err=nil.
	// A lease owned by the same owner is re-entrant.
	TryAcquireLease(ctx context.Context, eventID, owner string, ttl time.Duration) (acquired bool, err error)

	// ReleaseLease releases a lease if it is owned by owner. It is idempotent.
	ReleaseLease(ctx context.Context, eventID, owner string) error
}

// HistoryStore is an append-only processing log per event.
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry api.HistoryEntry) error
	ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error)
}

// NoopHistoryStore discards all entries.
type NoopHistoryStore struct{}

func (NoopHistoryStore) AppendHistory(ctx context.Context, entry api.HistoryEntry) error { return nil }
func (NoopHistoryStore) ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	return nil, nil
}

func cloneRecord(rec *api.EventRecord) *api.EventRecord {
	cp := *rec
	cp.State = append([]byte(nil), rec.State...)
	cp.Event.Payload = append([]byte(nil), rec.Event.Payload...)
	return &cp
}
