package casework

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/saksflyt/pkg/api"
)

// ReviewService drives the two-step review:
//
//	AwaitingCaseworker --Escalate--> AwaitingDecisionMaker --Approve--> Approved
//	        ^                                |
//	        +------- Return / AutoReturn ----+
//
// Each transition updates the review, the case and the audit trail in one
// transaction.
type ReviewService struct {
	store Store
	deps
}

func NewReviewService(store Store, opts ...Option) *ReviewService {
	return &ReviewService{store: store, deps: newDeps(opts)}
}

// CreateIfMissing returns the episode's active review, creating one awaiting
// the caseworker when there is none. An approved review starts a new round:
// it is superseded by a fresh record.
func (s *ReviewService) CreateIfMissing(ctx context.Context, episodeID, payoutRef string) (*Review, bool, error) {
	var (
		out     *Review
		created bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		now := s.clock.Now()
		active, err := tx.ActiveReview(ctx, episodeID)
		switch {
		case err == nil && active.State != ReviewApproved:
			out = active
			return nil
		case err == nil:
			active.Superseded = true
			active.UpdatedAt = now
			if err := tx.PutReview(ctx, active); err != nil {
				return err
			}
		case !errors.Is(err, api.ErrReviewNotFound):
			return err
		}

		r := &Review{
			ID:        s.newID(),
			EpisodeID: episodeID,
			State:     ReviewAwaitingCaseworker,
			PayoutRef: payoutRef,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.PutReview(ctx, r); err != nil {
			return err
		}
		out, created = r, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// Active returns the episode's current review.
func (s *ReviewService) Active(ctx context.Context, episodeID string) (*Review, error) {
	var out *Review
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.ActiveReview(ctx, episodeID)
		out = r
		return err
	})
	return out, err
}

// Escalate hands the case from its assigned caseworker to a decision-maker.
// The assignment is released, or moved to the decision-maker of an earlier
// round.
func (s *ReviewService) Escalate(ctx context.Context, caseID, caseworker string) error {
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
		if a == nil {
			return fmt.Errorf("escalate case %s: %w", caseID, api.ErrCaseNotAssigned)
		}
		if a.Caseworker != caseworker {
			return fmt.Errorf("escalate case %s as %s, assigned to %s: %w", caseID, caseworker, a.Caseworker, api.ErrIdentityMismatch)
		}
		r, err := tx.ActiveReview(ctx, c.EpisodeID)
		if err != nil {
			return err
		}
		if r.State != ReviewAwaitingCaseworker {
			return fmt.Errorf("escalate review %s in state %s: %w", r.ID, r.State, api.ErrInvalidTransition)
		}

		now := s.clock.Now()
		r.State = ReviewAwaitingDecisionMaker
		r.IsReturn = false
		r.Caseworker = caseworker
		r.UpdatedAt = now
		if err := tx.PutReview(ctx, r); err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, caseID); err != nil {
			return err
		}
		if r.DecisionMaker != "" {
			if err := tx.InsertAssignment(ctx, Assignment{CaseID: caseID, Caseworker: r.DecisionMaker, CreatedAt: now}); err != nil {
				return err
			}
		}
		c.Status = CaseAwaitingDecisionMaker
		c.UpdatedAt = now
		if err := tx.PutCase(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID: s.newID(), PayoutRef: c.PayoutRef, Kind: AuditEscalated, Caseworker: caseworker, At: now,
		}); err != nil {
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

// Return sends the review back to the caseworker with a note. The case is
// reassigned to the caseworker who escalated it.
func (s *ReviewService) Return(ctx context.Context, caseID, decisionMaker, note string) error {
	var updated Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		r, err := tx.ActiveReview(ctx, c.EpisodeID)
		if err != nil {
			return err
		}
		if r.State != ReviewAwaitingDecisionMaker {
			return fmt.Errorf("return review %s in state %s: %w", r.ID, r.State, api.ErrInvalidTransition)
		}
		if r.Caseworker == decisionMaker {
			return fmt.Errorf("return review %s: %w", r.ID, api.ErrSameCaseworker)
		}
		r.DecisionMaker = decisionMaker
		if err := s.returnToCaseworker(ctx, tx, c, r, AuditReturned, decisionMaker, note); err != nil {
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

// AutoReturn is the system-initiated Return for the latest open case of an
// episode. It reports false without changes when the review is not awaiting
// a decision-maker.
func (s *ReviewService) AutoReturn(ctx context.Context, episodeID, note string) (bool, error) {
	var updated *Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.LatestOpenCase(ctx, episodeID)
		if err != nil {
			return err
		}
		r, err := tx.ActiveReview(ctx, episodeID)
		if err != nil {
			return err
		}
		if r.State != ReviewAwaitingDecisionMaker {
			return nil
		}
		if err := s.returnToCaseworker(ctx, tx, c, r, AuditAutoReturn, "", note); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil || updated == nil {
		return false, err
	}
	s.notify(ctx, CaseUpdate{CaseID: updated.ID, Status: updated.Status, OnHold: updated.OnHold})
	return true, nil
}

func (s *ReviewService) returnToCaseworker(ctx context.Context, tx Tx, c *Case, r *Review, kind AuditKind, actor, note string) error {
	now := s.clock.Now()
	r.State = ReviewAwaitingCaseworker
	r.IsReturn = true
	r.UpdatedAt = now
	if err := tx.PutReview(ctx, r); err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, AuditEntry{
		ID: s.newID(), PayoutRef: c.PayoutRef, Kind: kind, Caseworker: actor, Note: note, At: now,
	}); err != nil {
		return err
	}
	if err := tx.DeleteAssignment(ctx, c.ID); err != nil {
		return err
	}
	if r.Caseworker != "" {
		if err := tx.InsertAssignment(ctx, Assignment{CaseID: c.ID, Caseworker: r.Caseworker, CreatedAt: now}); err != nil {
			return err
		}
	}
	c.Status = CaseAwaitingCaseworker
	c.UpdatedAt = now
	return tx.PutCase(ctx, c)
}

// Approve completes the review and closes the case. The decision-maker must
// differ from the caseworker who escalated it.
func (s *ReviewService) Approve(ctx context.Context, caseID, decisionMaker string) error {
	var updated Case
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		r, err := tx.ActiveReview(ctx, c.EpisodeID)
		if err != nil {
			return err
		}
		if r.State != ReviewAwaitingDecisionMaker {
			return fmt.Errorf("approve review %s in state %s: %w", r.ID, r.State, api.ErrInvalidTransition)
		}
		if r.Caseworker == decisionMaker {
			return fmt.Errorf("approve review %s: %w", r.ID, api.ErrSameCaseworker)
		}

		now := s.clock.Now()
		r.State = ReviewApproved
		r.DecisionMaker = decisionMaker
		r.UpdatedAt = now
		if err := tx.PutReview(ctx, r); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, AuditEntry{
			ID: s.newID(), PayoutRef: c.PayoutRef, Kind: AuditApproved, Caseworker: decisionMaker, At: now,
		}); err != nil {
			return err
		}
		if err := tx.DeleteAssignment(ctx, caseID); err != nil {
			return err
		}
		c.Status = CaseClosed
		c.UpdatedAt = now
		if err := tx.PutCase(ctx, c); err != nil {
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
