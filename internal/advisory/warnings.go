package advisory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Code identifies a warning kind.
type Code string

const (
	// CodeGuardianship: the subject has a guardian.
	CodeGuardianship Code = "SB_EX_4"

	// CodeForeignUnit: the subject belongs to a foreign-residency unit.
	CodeForeignUnit Code = "SB_EX_5"
)

// Warning (varsel) is a non-blocking flag on an episode. An episode carries
// each code at most once.
type Warning struct {
	EpisodeID string
	Code      Code

	// Source is the event that raised the warning.
	Source    string
	CreatedAt time.Time
}

// WarningStore persists warnings.
type WarningStore interface {
	// Add stores w unless the episode already has w.Code. It reports
	// whether w was written.
	Add(ctx context.Context, w Warning) (bool, error)

	// List returns an episode's warnings ordered by code.
	List(ctx context.Context, episodeID string) ([]Warning, error)
}

type warningKey struct {
	episode string
	code    Code
}

// MemoryWarningStore is an in-memory WarningStore.
type MemoryWarningStore struct {
	mu       sync.Mutex
	warnings map[warningKey]Warning
}

func NewMemoryWarningStore() *MemoryWarningStore {
	return &MemoryWarningStore{warnings: make(map[warningKey]Warning)}
}

func (s *MemoryWarningStore) Add(ctx context.Context, w Warning) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := warningKey{episode: w.EpisodeID, code: w.Code}
	if _, ok := s.warnings[k]; ok {
		return false, nil
	}
	s.warnings[k] = w
	return true, nil
}

func (s *MemoryWarningStore) List(ctx context.Context, episodeID string) ([]Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Warning
	for k, w := range s.warnings {
		if k.episode == episodeID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
