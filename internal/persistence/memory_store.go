package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

type memoryLease struct {
	owner   string
	expires time.Time
}

// InMemoryStore is a simple, goroutine-safe implementation of RecordStore
// and HistoryStore backed by maps. Records are copied on the way in and out
// so callers never share memory with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*api.EventRecord
	leases  map[string]memoryLease
	history map[string][]api.HistoryEntry
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*api.EventRecord),
		leases:  make(map[string]memoryLease),
		history: make(map[string][]api.HistoryEntry),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ RecordStore = (*InMemoryStore)(nil)

var _ HistoryStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) Create(ctx context.Context, rec *api.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Event.ID]; ok {
		return ErrRecordExists
	}
	s.records[rec.Event.ID] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, eventID string) (*api.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) Update(ctx context.Context, rec *api.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.Event.ID]
	if !ok {
		return ErrRecordNotFound
	}
	if cur.Version != rec.Version {
		return api.ErrPersistenceConflict
	}
	rec.Version++
	s.records[rec.Event.ID] = cloneRecord(rec)
	return nil
}

func (s *InMemoryStore) List(ctx context.Context, filter RecordFilter) ([]*api.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.EventRecord
	for _, rec := range s.records {
		if filter.EventType != "" && rec.Event.Type != filter.EventType {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		result = append(result, cloneRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event.ID < result[j].Event.ID })
	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[eventID]; !ok {
		return false, ErrRecordNotFound
	}
	now := time.Now()
	if l, ok := s.leases[eventID]; ok && l.owner != owner && l.expires.After(now) {
		return false, nil
	}
	s.leases[eventID] = memoryLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, eventID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[eventID]; ok && l.owner == owner {
		delete(s.leases, eventID)
	}
	return nil
}

func (s *InMemoryStore) AppendHistory(ctx context.Context, entry api.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	s.history[entry.EventID] = append(s.history[entry.EventID], entry)
	return nil
}

func (s *InMemoryStore) ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.HistoryEntry, len(s.history[eventID]))
	copy(out, s.history[eventID])
	return out, nil
}
