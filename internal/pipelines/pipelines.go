// Package pipelines wires the domain steps into the event pipelines the
// orchestrator runs.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/override"
	"github.com/petrijr/saksflyt/pkg/api"
)

// Event types handled here besides override.EventType.
const (
	ApprovalRequest api.EventType = "godkjenningsbehov"
	ReviewReturn    api.EventType = "totrinn_retur"
)

const caseIDKey = "caseId"

// ApprovalPayload is the payload of a godkjenningsbehov event.
type ApprovalPayload struct {
	PayoutRef   string `json:"utbetalingId"`
	NeedsReview bool   `json:"kreverTotrinnsvurdering"`
}

// ReturnPayload is the payload of a totrinn_retur event.
type ReturnPayload struct {
	Note string `json:"begrunnelse"`
}

// Deps holds the services the pipelines call.
type Deps struct {
	Cases     *casework.CaseService
	Reviews   *casework.ReviewService
	Evaluator *advisory.Evaluator
	Overrides override.Config
	Logger    *slog.Logger
}

// Stores holds the storage the pipelines write to.
type Stores struct {
	Cases     casework.Store
	Overrides override.Store
	Warnings  advisory.WarningStore
	Facts     advisory.FactCache
}

// NewDeps builds the services over s. Case updates and finished overrides
// are announced on b.
func NewDeps(s Stores, b bus.Bus, foreignUnits []string, logger *slog.Logger) Deps {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []casework.Option{
		casework.WithNotifier(casework.NewBusNotifier(b)),
		casework.WithLogger(logger),
	}
	return Deps{
		Cases:   casework.NewCaseService(s.Cases, opts...),
		Reviews: casework.NewReviewService(s.Cases, opts...),
		Evaluator: advisory.NewEvaluator(advisory.Config{
			Cache:        s.Facts,
			Warnings:     s.Warnings,
			ForeignUnits: foreignUnits,
			Logger:       logger,
		}),
		Overrides: override.Config{Store: s.Overrides, Bus: b, Logger: logger},
		Logger:    logger,
	}
}

// Registrar is the part of the orchestrator that accepts pipelines.
type Registrar interface {
	Register(def api.PipelineDefinition) error
}

// Register adds every pipeline to r.
func Register(r Registrar, d Deps) error {
	for _, def := range Definitions(d) {
		if err := r.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.EventType, err)
		}
	}
	return nil
}

// Definitions returns the pipelines of this service.
func Definitions(d Deps) []api.PipelineDefinition {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	p := &approval{deps: d}
	return []api.PipelineDefinition{
		{
			EventType: ApprovalRequest,
			Steps: []api.Step{
				d.Evaluator.Step(),
				api.Action("opprett-oppgave", p.createCase),
				api.Action("vurder-totrinn", p.assessReview),
			},
		},
		override.Pipeline(d.Overrides),
		{
			EventType: ReviewReturn,
			Steps: []api.Step{
				api.Action("automatisk-retur", p.autoReturn),
			},
		},
	}
}

type approval struct {
	deps Deps
}

func decodePayload[T any](ec *api.ExecutionContext) (T, error) {
	var p T
	ev := ec.Event()
	if err := ev.DecodePayload(&p); err != nil {
		return p, fmt.Errorf("decode %s payload of event %s: %v: %w", ev.Type, ev.ID, err, api.ErrPermanent)
	}
	if ev.Episode == "" {
		return p, fmt.Errorf("event %s has no episode: %w", ev.ID, api.ErrPermanent)
	}
	return p, nil
}

func (p *approval) createCase(ctx context.Context, ec *api.ExecutionContext) error {
	payload, err := decodePayload[ApprovalPayload](ec)
	if err != nil {
		return err
	}
	ev := ec.Event()
	c, err := p.deps.Cases.CreateForEvent(ctx, casework.NewCase{
		EventID:   ev.ID,
		Subject:   ev.Subject,
		EpisodeID: ev.Episode,
		PayoutRef: payload.PayoutRef,
	})
	if err != nil {
		return err
	}
	return ec.Set(caseIDKey, c.ID)
}

func (p *approval) assessReview(ctx context.Context, ec *api.ExecutionContext) error {
	payload, err := decodePayload[ApprovalPayload](ec)
	if err != nil {
		return err
	}
	if !payload.NeedsReview {
		return nil
	}
	ev := ec.Event()
	r, created, err := p.deps.Reviews.CreateIfMissing(ctx, ev.Episode, payload.PayoutRef)
	if err != nil {
		return err
	}
	if created {
		p.deps.Logger.InfoContext(ctx, "review_created",
			slog.String("event_id", ev.ID),
			slog.String("episode_id", ev.Episode),
			slog.String("review_id", r.ID),
		)
	}
	return nil
}

func (p *approval) autoReturn(ctx context.Context, ec *api.ExecutionContext) error {
	payload, err := decodePayload[ReturnPayload](ec)
	if err != nil {
		return err
	}
	ev := ec.Event()
	returned, err := p.deps.Reviews.AutoReturn(ctx, ev.Episode, payload.Note)
	if errors.Is(err, api.ErrCaseNotFound) || errors.Is(err, api.ErrReviewNotFound) {
		return fmt.Errorf("%w: %w", err, api.ErrPermanent)
	}
	if err != nil {
		return err
	}
	if !returned {
		p.deps.Logger.InfoContext(ctx, "auto_return_skipped",
			slog.String("event_id", ev.ID),
			slog.String("episode_id", ev.Episode),
		)
	}
	return nil
}
