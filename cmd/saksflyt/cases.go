package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/pkg/api"
)

// caseServices are the caseworker-facing services over the configured
// casework store. Case updates are announced on the bus.
type caseServices struct {
	cases       *casework.CaseService
	assignments *casework.AssignmentService
	reviews     *casework.ReviewService
}

func (a *app) caseServices() caseServices {
	opts := []casework.Option{
		casework.WithNotifier(casework.NewBusNotifier(a.bus)),
		casework.WithLogger(a.logger),
	}
	return caseServices{
		cases:       casework.NewCaseService(a.cases, opts...),
		assignments: casework.NewAssignmentService(a.cases, opts...),
		reviews:     casework.NewReviewService(a.cases, opts...),
	}
}

func (c *cli) caseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Inspect cases and perform caseworker operations",
		Long: `Caseworker operations on cases (oppgaver). An operation the case rules
refuse, such as assigning a case someone already holds, exits with status 2.`,
	}
	cmd.AddCommand(c.caseShowCmd())
	cmd.AddCommand(c.caseOpCmd("assign", "Assign the case to a caseworker", "caseworker",
		func(ctx context.Context, s caseServices, caseID, actor, _ string) error {
			return s.assignments.Assign(ctx, caseID, actor)
		}))
	cmd.AddCommand(c.caseOpCmd("unassign", "Remove the case's assignment", "",
		func(ctx context.Context, s caseServices, caseID, _, _ string) error {
			return s.assignments.Unassign(ctx, caseID)
		}))
	cmd.AddCommand(c.caseOpCmd("hold", "Put an assigned case on hold", "",
		func(ctx context.Context, s caseServices, caseID, _, _ string) error {
			return s.assignments.PutOnHold(ctx, caseID)
		}))
	cmd.AddCommand(c.caseOpCmd("release", "Lift the hold of a case", "",
		func(ctx context.Context, s caseServices, caseID, _, _ string) error {
			return s.assignments.ReleaseHold(ctx, caseID)
		}))
	cmd.AddCommand(c.caseOpCmd("escalate", "Send the case to a decision-maker", "caseworker",
		func(ctx context.Context, s caseServices, caseID, actor, _ string) error {
			return s.reviews.Escalate(ctx, caseID, actor)
		}))
	cmd.AddCommand(c.caseOpCmd("return", "Return the case to its caseworker", "decision-maker",
		func(ctx context.Context, s caseServices, caseID, actor, note string) error {
			return s.reviews.Return(ctx, caseID, actor, note)
		}))
	cmd.AddCommand(c.caseOpCmd("approve", "Approve the two-step review and close the case", "decision-maker",
		func(ctx context.Context, s caseServices, caseID, actor, _ string) error {
			return s.reviews.Approve(ctx, caseID, actor)
		}))
	return cmd
}

type caseOp func(ctx context.Context, s caseServices, caseID, actor, note string) error

// caseOpCmd builds one caseworker operation. actorFlag names the required
// identity flag, or is empty when the operation takes none.
func (c *cli) caseOpCmd(use, short, actorFlag string, op caseOp) *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   use + " CASE_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorFlag != "" && actor == "" {
				return errors.New("--" + actorFlag + " required")
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				s := a.caseServices()
				if err := op(ctx, s, args[0], actor, note); err != nil {
					return rejected(err)
				}
				got, err := s.cases.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printCase(viewCase(ctx, s, got))
			})
		},
	}
	if actorFlag != "" {
		cmd.Flags().StringVar(&actor, actorFlag, "", "identity performing the operation")
	}
	if use == "return" {
		cmd.Flags().StringVar(&note, "note", "", "note to the caseworker")
	}
	return cmd
}

func (c *cli) caseShowCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "show [CASE_ID]",
		Short: "Show a case with its assignment and review",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (eventID == "") {
				return errors.New("give either CASE_ID or --event")
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				s := a.caseServices()
				var (
					got *casework.Case
					err error
				)
				if eventID != "" {
					got, err = s.cases.ForEvent(ctx, eventID)
				} else {
					got, err = s.cases.Get(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return c.printCase(viewCase(ctx, s, got))
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "look the case up by the event that created it")
	return cmd
}

// caseView is the printable form of a case.
type caseView struct {
	ID         string    `json:"id" yaml:"id"`
	Subject    string    `json:"subject" yaml:"subject"`
	Episode    string    `json:"episode" yaml:"episode"`
	Status     string    `json:"status" yaml:"status"`
	OnHold     bool      `json:"on_hold" yaml:"on_hold"`
	PayoutRef  string    `json:"payout_ref,omitempty" yaml:"payout_ref,omitempty"`
	EventID    string    `json:"event_id" yaml:"event_id"`
	AssignedTo string    `json:"assigned_to,omitempty" yaml:"assigned_to,omitempty"`
	Review     string    `json:"review,omitempty" yaml:"review,omitempty"`
	IsReturn   bool      `json:"is_return,omitempty" yaml:"is_return,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// viewCase adds the assignment and review to c. Lookup failures leave those
// fields empty.
func viewCase(ctx context.Context, s caseServices, c *casework.Case) caseView {
	v := caseView{
		ID:        c.ID,
		Subject:   c.Subject,
		Episode:   c.EpisodeID,
		Status:    string(c.Status),
		OnHold:    c.OnHold,
		PayoutRef: c.PayoutRef,
		EventID:   c.EventID,
		UpdatedAt: c.UpdatedAt,
	}
	if a, err := s.assignments.ActiveAssignment(ctx, c.ID); err == nil && a != nil {
		v.AssignedTo = a.Caseworker
	}
	if r, err := s.reviews.Active(ctx, c.EpisodeID); err == nil {
		v.Review = string(r.State)
		v.IsReturn = r.IsReturn
	}
	return v
}

// rejectedError is a caseworker operation refused by the case rules.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return "rejected: " + e.err.Error() }

func (e *rejectedError) Unwrap() error { return e.err }

func rejected(err error) error {
	if api.IsCaseworkerError(err) {
		return &rejectedError{err: err}
	}
	return err
}
