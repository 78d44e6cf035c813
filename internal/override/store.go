package override

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned by Store.Get for an unknown override id.
var ErrRecordNotFound = errors.New("override record not found")

// Store persists override records.
type Store interface {
	// Save stores rec unless a record with the same id exists. It reports
	// whether rec was written.
	Save(ctx context.Context, rec Record) (bool, error)
	Get(ctx context.Context, id string) (Record, error)

	// ListBySubject returns a subject's overrides, oldest first.
	ListBySubject(ctx context.Context, subject string) ([]Record, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	s.records[rec.ID] = rec
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListBySubject(ctx context.Context, subject string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Subject == subject {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
