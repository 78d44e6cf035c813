package casework

import (
	"context"
	"errors"

	"github.com/petrijr/saksflyt/pkg/api"
)

// CaseService creates and reads cases.
type CaseService struct {
	store Store
	deps
}

func NewCaseService(store Store, opts ...Option) *CaseService {
	return &CaseService{store: store, deps: newDeps(opts)}
}

// NewCase describes the case an event asks for.
type NewCase struct {
	EventID   string
	Subject   string
	EpisodeID string
	PayoutRef string
}

// CreateForEvent returns the case created by n.EventID, creating it on the
// first call.
func (s *CaseService) CreateForEvent(ctx context.Context, n NewCase) (*Case, error) {
	var out *Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		existing, err := tx.CaseByEvent(ctx, n.EventID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, api.ErrCaseNotFound) {
			return err
		}
		now := s.clock.Now()
		c := &Case{
			ID:        s.newID(),
			Subject:   n.Subject,
			EpisodeID: n.EpisodeID,
			Status:    CaseAwaitingCaseworker,
			PayoutRef: n.PayoutRef,
			EventID:   n.EventID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.PutCase(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the case with caseID or api.ErrCaseNotFound.
func (s *CaseService) Get(ctx context.Context, caseID string) (*Case, error) {
	var out *Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		out = c
		return err
	})
	return out, err
}

// ForEvent returns the case created by eventID.
func (s *CaseService) ForEvent(ctx context.Context, eventID string) (*Case, error) {
	var out *Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.CaseByEvent(ctx, eventID)
		out = c
		return err
	})
	return out, err
}

// Audit lists the audit trail of a payout in append order.
func (s *CaseService) Audit(ctx context.Context, payoutRef string) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		entries, err := tx.ListAudit(ctx, payoutRef)
		out = entries
		return err
	})
	return out, err
}
