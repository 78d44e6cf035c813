// Package caseworktest holds the behavior every casework.Store must show
// through the casework services.
package caseworktest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/pkg/api"
)

// RecordingNotifier keeps every update it receives.
type RecordingNotifier struct {
	mu      sync.Mutex
	Updates []casework.CaseUpdate
	Err     error
}

func (n *RecordingNotifier) CaseUpdated(ctx context.Context, u casework.CaseUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Updates = append(n.Updates, u)
	return n.Err
}

func (n *RecordingNotifier) Last() (casework.CaseUpdate, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.Updates) == 0 {
		return casework.CaseUpdate{}, false
	}
	return n.Updates[len(n.Updates)-1], true
}

// Services bundles the services over one store.
type Services struct {
	Cases       *casework.CaseService
	Assignments *casework.AssignmentService
	Reviews     *casework.ReviewService
	Notifier    *RecordingNotifier
	Clock       *clock.Manual
}

func NewServices(store casework.Store) *Services {
	n := &RecordingNotifier{}
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	var (
		mu  sync.Mutex
		seq int
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}
	opts := []casework.Option{casework.WithNotifier(n), casework.WithClock(clk), casework.WithIDs(ids)}
	return &Services{
		Cases:       casework.NewCaseService(store, opts...),
		Assignments: casework.NewAssignmentService(store, opts...),
		Reviews:     casework.NewReviewService(store, opts...),
		Notifier:    n,
		Clock:       clk,
	}
}

// CreateCase creates a case for event eventID in episode "P1".
func (s *Services) CreateCase(t *testing.T, eventID string) *casework.Case {
	t.Helper()
	c, err := s.Cases.CreateForEvent(context.Background(), casework.NewCase{
		EventID:   eventID,
		Subject:   "12345678910",
		EpisodeID: "P1",
		PayoutRef: "U1",
	})
	require.NoError(t, err)
	return c
}

// RunStoreContract runs the shared scenarios against fresh stores.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) casework.Store) {
	t.Run("CreateForEventIsIdempotent", func(t *testing.T) {
		s := NewServices(newStore(t))
		first := s.CreateCase(t, "E1")
		second := s.CreateCase(t, "E1")
		require.Equal(t, first.ID, second.ID)
		require.Equal(t, casework.CaseAwaitingCaseworker, second.Status)

		got, err := s.Cases.Get(context.Background(), first.ID)
		require.NoError(t, err)
		require.Equal(t, "P1", got.EpisodeID)

		byEvent, err := s.Cases.ForEvent(context.Background(), "E1")
		require.NoError(t, err)
		require.Equal(t, first.ID, byEvent.ID)
		_, err = s.Cases.ForEvent(context.Background(), "E2")
		require.ErrorIs(t, err, api.ErrCaseNotFound)
	})

	t.Run("GetUnknownCase", func(t *testing.T) {
		s := NewServices(newStore(t))
		_, err := s.Cases.Get(context.Background(), "missing")
		require.ErrorIs(t, err, api.ErrCaseNotFound)
		require.ErrorIs(t, s.Assignments.Assign(context.Background(), "missing", "S1"), api.ErrCaseNotFound)
	})

	t.Run("AssignIsExclusive", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")

		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.ErrorIs(t, s.Assignments.Assign(ctx, c.ID, "S2"), api.ErrAlreadyAssigned)
		require.ErrorIs(t, s.Assignments.Assign(ctx, c.ID, "S1"), api.ErrAlreadyAssigned)

		a, err := s.Assignments.ActiveAssignment(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, a)
		require.Equal(t, "S1", a.Caseworker)

		require.NoError(t, s.Assignments.Unassign(ctx, c.ID))
		require.NoError(t, s.Assignments.Unassign(ctx, c.ID))
		a, err = s.Assignments.ActiveAssignment(ctx, c.ID)
		require.NoError(t, err)
		require.Nil(t, a)
		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S2"))
	})

	t.Run("ConcurrentAssignHasOneWinner", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")

		const n = 8
		errs := make(chan error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Assignments.Assign(ctx, c.ID, fmt.Sprintf("S%d", i))
			}(i)
		}
		wg.Wait()
		close(errs)

		winners := 0
		for err := range errs {
			if err == nil {
				winners++
				continue
			}
			require.ErrorIs(t, err, api.ErrAlreadyAssigned)
		}
		require.Equal(t, 1, winners)
	})

	t.Run("HoldRequiresAssignment", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")

		require.ErrorIs(t, s.Assignments.PutOnHold(ctx, c.ID), api.ErrNotAssigned)
		require.Empty(t, s.Notifier.Updates)

		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.NoError(t, s.Assignments.PutOnHold(ctx, c.ID))
		got, err := s.Cases.Get(ctx, c.ID)
		require.NoError(t, err)
		require.True(t, got.OnHold)
		u, ok := s.Notifier.Last()
		require.True(t, ok)
		require.Equal(t, casework.CaseUpdate{CaseID: c.ID, Status: casework.CaseAwaitingCaseworker, OnHold: true}, u)

		require.NoError(t, s.Assignments.ReleaseHold(ctx, c.ID))
		got, err = s.Cases.Get(ctx, c.ID)
		require.NoError(t, err)
		require.False(t, got.OnHold)
		u, _ = s.Notifier.Last()
		require.False(t, u.OnHold)

		audit, err := s.Cases.Audit(ctx, "U1")
		require.NoError(t, err)
		require.Equal(t, []casework.AuditKind{casework.AuditPutOnHold, casework.AuditHoldLifted}, kinds(audit))
		require.Equal(t, "S1", audit[0].Caseworker)
	})

	t.Run("NotifierFailureKeepsChange", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		s.Notifier.Err = fmt.Errorf("viewer offline")
		c := s.CreateCase(t, "E1")

		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.NoError(t, s.Assignments.PutOnHold(ctx, c.ID))
		got, err := s.Cases.Get(ctx, c.ID)
		require.NoError(t, err)
		require.True(t, got.OnHold)
	})

	t.Run("CreateIfMissingTwice", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))

		first, created, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)
		require.True(t, created)
		second, created, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, first.ID, second.ID)

		active, err := s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, first.ID, active.ID)
		require.Equal(t, casework.ReviewAwaitingCaseworker, active.State)
		require.False(t, active.IsReturn)
	})

	t.Run("EscalateRequiresAssignment", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")
		_, _, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)

		require.ErrorIs(t, s.Reviews.Escalate(ctx, c.ID, "S1"), api.ErrCaseNotAssigned)

		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.ErrorIs(t, s.Reviews.Escalate(ctx, c.ID, "S2"), api.ErrIdentityMismatch)

		r, err := s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, casework.ReviewAwaitingCaseworker, r.State)
	})

	t.Run("EscalateWithoutReview", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")
		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.ErrorIs(t, s.Reviews.Escalate(ctx, c.ID, "S1"), api.ErrReviewNotFound)
	})

	t.Run("ReviewRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")
		_, _, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)
		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))

		require.NoError(t, s.Reviews.Escalate(ctx, c.ID, "S1"))
		requireCase(t, s, c.ID, casework.CaseAwaitingDecisionMaker)
		requireAssignee(t, s, c.ID, "")
		require.ErrorIs(t, s.Reviews.Escalate(ctx, c.ID, "S1"), api.ErrCaseNotAssigned)

		require.ErrorIs(t, s.Reviews.Return(ctx, c.ID, "S1", "own case"), api.ErrSameCaseworker)
		require.NoError(t, s.Reviews.Return(ctx, c.ID, "B1", "check the dates"))

		r, err := s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, casework.ReviewAwaitingCaseworker, r.State)
		require.True(t, r.IsReturn)
		require.Equal(t, "B1", r.DecisionMaker)
		requireCase(t, s, c.ID, casework.CaseAwaitingCaseworker)
		requireAssignee(t, s, c.ID, "S1")

		require.ErrorIs(t, s.Reviews.Approve(ctx, c.ID, "B1"), api.ErrInvalidTransition)

		// The second round goes back to the same decision-maker.
		require.NoError(t, s.Reviews.Escalate(ctx, c.ID, "S1"))
		requireAssignee(t, s, c.ID, "B1")
		r, err = s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.False(t, r.IsReturn)

		require.ErrorIs(t, s.Reviews.Approve(ctx, c.ID, "S1"), api.ErrSameCaseworker)
		require.NoError(t, s.Reviews.Approve(ctx, c.ID, "B1"))
		requireCase(t, s, c.ID, casework.CaseClosed)
		requireAssignee(t, s, c.ID, "")

		audit, err := s.Cases.Audit(ctx, "U1")
		require.NoError(t, err)
		require.Equal(t, []casework.AuditKind{
			casework.AuditEscalated,
			casework.AuditReturned,
			casework.AuditEscalated,
			casework.AuditApproved,
		}, kinds(audit))
		require.Equal(t, "check the dates", audit[1].Note)
		require.Equal(t, "B1", audit[1].Caseworker)

		u, ok := s.Notifier.Last()
		require.True(t, ok)
		require.Equal(t, casework.CaseClosed, u.Status)
	})

	t.Run("ApprovedReviewIsSupersededByNewRound", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")
		first, _, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)
		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.NoError(t, s.Reviews.Escalate(ctx, c.ID, "S1"))
		require.NoError(t, s.Reviews.Approve(ctx, c.ID, "B1"))

		next, created, err := s.Reviews.CreateIfMissing(ctx, "P1", "U2")
		require.NoError(t, err)
		require.True(t, created)
		require.NotEqual(t, first.ID, next.ID)

		active, err := s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, next.ID, active.ID)
		require.Equal(t, casework.ReviewAwaitingCaseworker, active.State)
	})

	t.Run("AutoReturn", func(t *testing.T) {
		ctx := context.Background()
		s := NewServices(newStore(t))
		c := s.CreateCase(t, "E1")
		_, _, err := s.Reviews.CreateIfMissing(ctx, "P1", "U1")
		require.NoError(t, err)

		returned, err := s.Reviews.AutoReturn(ctx, "P1", "new information")
		require.NoError(t, err)
		require.False(t, returned)

		require.NoError(t, s.Assignments.Assign(ctx, c.ID, "S1"))
		require.NoError(t, s.Reviews.Escalate(ctx, c.ID, "S1"))
		returned, err = s.Reviews.AutoReturn(ctx, "P1", "new information")
		require.NoError(t, err)
		require.True(t, returned)

		r, err := s.Reviews.Active(ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, casework.ReviewAwaitingCaseworker, r.State)
		require.True(t, r.IsReturn)
		requireCase(t, s, c.ID, casework.CaseAwaitingCaseworker)
		requireAssignee(t, s, c.ID, "S1")

		audit, err := s.Cases.Audit(ctx, "U1")
		require.NoError(t, err)
		last := audit[len(audit)-1]
		require.Equal(t, casework.AuditAutoReturn, last.Kind)
		require.Empty(t, last.Caseworker)

		_, err = s.Reviews.AutoReturn(ctx, "P-unknown", "")
		require.ErrorIs(t, err, api.ErrCaseNotFound)
	})
}

func requireCase(t *testing.T, s *Services, caseID string, status casework.CaseStatus) {
	t.Helper()
	c, err := s.Cases.Get(context.Background(), caseID)
	require.NoError(t, err)
	require.Equal(t, status, c.Status)
}

func requireAssignee(t *testing.T, s *Services, caseID, caseworker string) {
	t.Helper()
	a, err := s.Assignments.ActiveAssignment(context.Background(), caseID)
	require.NoError(t, err)
	if caseworker == "" {
		require.Nil(t, a)
		return
	}
	require.NotNil(t, a)
	require.Equal(t, caseworker, a.Caseworker)
}

func kinds(entries []casework.AuditEntry) []casework.AuditKind {
	out := make([]casework.AuditKind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}
