package casework

import (
	"context"
	"fmt"

	"github.com/petrijr/saksflyt/pkg/api"
)

// AssignmentService owns the assignment lock of cases and their on-hold
// flag.
type AssignmentService struct {
	store Store
	deps
}

func NewAssignmentService(store Store, opts ...Option) *AssignmentService {
	return &AssignmentService{store: store, deps: newDeps(opts)}
}

// Assign gives the case to caseworker. It fails with api.ErrAlreadyAssigned
// while anyone, including caseworker, holds the case.
func (s *AssignmentService) Assign(ctx context.Context, caseID, caseworker string) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.GetCase(ctx, caseID); err != nil {
			return err
		}
		return tx.InsertAssignment(ctx, Assignment{
			CaseID:     caseID,
			Caseworker: caseworker,
			CreatedAt:  s.clock.Now(),
		})
	})
}

// Unassign removes the assignment unconditionally.
func (s *AssignmentService) Unassign(ctx context.Context, caseID string) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.DeleteAssignment(ctx, caseID)
	})
}

// ActiveAssignment returns the case's assignment, or nil if it has none.
func (s *AssignmentService) ActiveAssignment(ctx context.Context, caseID string) (*Assignment, error) {
	var out *Assignment
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		a, err := tx.GetAssignment(ctx, caseID)
		out = a
		return err
	})
	return out, err
}

// PutOnHold sets the on-hold flag of an assigned case.
func (s *AssignmentService) PutOnHold(ctx context.Context, caseID string) error {
	return s.setHold(ctx, caseID, true)
}

// ReleaseHold clears the on-hold flag.
func (s *AssignmentService) ReleaseHold(ctx context.Context, caseID string) error {
	return s.setHold(ctx, caseID, false)
}

func (s *AssignmentService) setHold(ctx context.Context, caseID string, hold bool) error {
	var updated Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		a, err := tx.GetAssignment(ctx, caseID)
		if err != nil {
			return err
		}
		if hold && a == nil {
			return fmt.Errorf("put case %s on hold: %w", caseID, api.ErrNotAssigned)
		}

		now := s.clock.Now()
		c.OnHold = hold
		c.UpdatedAt = now
		if err := tx.PutCase(ctx, c); err != nil {
			return err
		}

		entry := AuditEntry{ID: s.newID(), PayoutRef: c.PayoutRef, Kind: AuditHoldLifted, At: now}
		if hold {
			entry.Kind = AuditPutOnHold
		}
		if a != nil {
			entry.Caseworker = a.Caseworker
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}
		updated = *c
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, CaseUpdate{CaseID: updated.ID, Status: updated.Status, OnHold: updated.OnHold})
	return nil
}
