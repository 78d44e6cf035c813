package casework

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/saksflyt/pkg/api"
)

// Operation names accepted by MemoryStore.InjectFault.
const (
	OpPutCase          = "PutCase"
	OpInsertAssignment = "InsertAssignment"
	OpDeleteAssignment = "DeleteAssignment"
	OpPutReview        = "PutReview"
	OpAppendAudit      = "AppendAudit"
)

type memoryState struct {
	cases       map[string]Case
	assignments map[string]Assignment
	reviews     map[string]Review
	audit       []AuditEntry
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		cases:       make(map[string]Case, len(s.cases)),
		assignments: make(map[string]Assignment, len(s.assignments)),
		reviews:     make(map[string]Review, len(s.reviews)),
		audit:       append([]AuditEntry(nil), s.audit...),
	}
	for k, v := range s.cases {
		c.cases[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	return c
}

// MemoryStore is an in-memory Store. Transactions are serialized and work
// on a copy of the state that replaces it on commit.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memoryState
	faults map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			cases:       make(map[string]Case),
			assignments: make(map[string]Assignment),
			reviews:     make(map[string]Review),
		},
		faults: make(map[string]error),
	}
}

// InjectFault makes every later call of the named Tx operation fail with
// err. A nil err removes the fault.
func (s *MemoryStore) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: s.state.clone(), faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

type memoryTx struct {
	state  *memoryState
	faults map[string]error
}

func (tx *memoryTx) fault(op string) error {
	if err, ok := tx.faults[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (tx *memoryTx) GetCase(ctx context.Context, caseID string) (*Case, error) {
	c, ok := tx.state.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, api.ErrCaseNotFound)
	}
	return &c, nil
}

func (tx *memoryTx) CaseByEvent(ctx context.Context, eventID string) (*Case, error) {
	for _, c := range tx.state.cases {
		if c.EventID == eventID {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("case for event %s: %w", eventID, api.ErrCaseNotFound)
}

func (tx *memoryTx) LatestOpenCase(ctx context.Context, episodeID string) (*Case, error) {
	var open []Case
	for _, c := range tx.state.cases {
		if c.EpisodeID == episodeID && c.Status != CaseClosed {
			open = append(open, c)
		}
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("open case for episode %s: %w", episodeID, api.ErrCaseNotFound)
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID > open[j].ID
		}
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	return &open[0], nil
}

func (tx *memoryTx) PutCase(ctx context.Context, c *Case) error {
	if err := tx.fault(OpPutCase); err != nil {
		return err
	}
	tx.state.cases[c.ID] = *c
	return nil
}

func (tx *memoryTx) GetAssignment(ctx context.Context, caseID string) (*Assignment, error) {
	a, ok := tx.state.assignments[caseID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (tx *memoryTx) InsertAssignment(ctx context.Context, a Assignment) error {
	if err := tx.fault(OpInsertAssignment); err != nil {
		return err
	}
	if existing, ok := tx.state.assignments[a.CaseID]; ok {
		return fmt.Errorf("case %s held by %s: %w", a.CaseID, existing.Caseworker, api.ErrAlreadyAssigned)
	}
	tx.state.assignments[a.CaseID] = a
	return nil
}

func (tx *memoryTx) DeleteAssignment(ctx context.Context, caseID string) error {
	if err := tx.fault(OpDeleteAssignment); err != nil {
		return err
	}
	delete(tx.state.assignments, caseID)
	return nil
}

func (tx *memoryTx) ActiveReview(ctx context.Context, episodeID string) (*Review, error) {
	for _, r := range tx.state.reviews {
		if r.EpisodeID == episodeID && !r.Superseded {
			r := r
			return &r, nil
		}
	}
	return nil, fmt.Errorf("review for episode %s: %w", episodeID, api.ErrReviewNotFound)
}

func (tx *memoryTx) PutReview(ctx context.Context, r *Review) error {
	if err := tx.fault(OpPutReview); err != nil {
		return err
	}
	tx.state.reviews[r.ID] = *r
	return nil
}

func (tx *memoryTx) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := tx.fault(OpAppendAudit); err != nil {
		return err
	}
	tx.state.audit = append(tx.state.audit, e)
	return nil
}

func (tx *memoryTx) ListAudit(ctx context.Context, payoutRef string) ([]AuditEntry, error) {
	var out []AuditEntry
	for _, e := range tx.state.audit {
		if e.PayoutRef == payoutRef {
			out = append(out, e)
		}
	}
	return out, nil
}
