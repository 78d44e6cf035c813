package override

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/pkg/api"
)

// EventType is the event type handled by Pipeline.
const EventType api.EventType = "overstyring"

const caseworkerKey = "override.caseworker"

// Config wires the override steps.
type Config struct {
	Store  Store
	Bus    bus.Bus
	Clock  clock.Clock
	Logger *slog.Logger
}

// Pipeline returns the overstyring pipeline: bind and check the caseworker
// identity, persist the record, publish the notification. The event id is
// the override id, so redelivery never stores a second record.
func Pipeline(cfg Config) api.PipelineDefinition {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &steps{cfg: cfg}
	return api.PipelineDefinition{
		EventType: EventType,
		Steps: []api.Step{
			api.Action("apply-identity", s.applyIdentity),
			api.Action("persist-override", s.persist),
			api.Action("publish-override", s.publish),
		},
	}
}

type steps struct {
	cfg Config
}

func (s *steps) applyIdentity(ctx context.Context, ec *api.ExecutionContext) error {
	o, submitter, err := Decode(ec.Event())
	if err != nil {
		return err
	}
	if err := o.Apply(submitter); err != nil {
		return err
	}
	return ec.Set(caseworkerKey, o.Caseworker())
}

// applied decodes the event's override and binds the caseworker accepted by
// applyIdentity.
func (s *steps) applied(ec *api.ExecutionContext) (Override, error) {
	o, _, err := Decode(ec.Event())
	if err != nil {
		return nil, err
	}
	var caseworker string
	if ok, err := ec.Get(caseworkerKey, &caseworker); err != nil || !ok {
		return nil, fmt.Errorf("event %s: no applied caseworker: %w", ec.Event().ID, api.ErrPermanent)
	}
	if err := o.Apply(caseworker); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *steps) persist(ctx context.Context, ec *api.ExecutionContext) error {
	o, err := s.applied(ec)
	if err != nil {
		return err
	}
	rec, err := ToRecord(o, ec.Event().ID, s.cfg.Clock.Now())
	if err != nil {
		return err
	}
	created, err := s.cfg.Store.Save(ctx, rec)
	if err != nil {
		return fmt.Errorf("save override %s: %w", rec.ID, err)
	}
	if !created {
		s.cfg.Logger.InfoContext(ctx, "override_already_saved",
			slog.String("event_id", rec.ID),
			slog.String("kind", string(rec.Kind)),
		)
	}
	return nil
}

func (s *steps) publish(ctx context.Context, ec *api.ExecutionContext) error {
	o, err := s.applied(ec)
	if err != nil {
		return err
	}
	rec, err := s.cfg.Store.Get(ctx, ec.Event().ID)
	if err != nil {
		return fmt.Errorf("load override %s: %w", ec.Event().ID, err)
	}
	msg, err := NotificationEvent(o, rec)
	if err != nil {
		return err
	}
	if err := s.cfg.Bus.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish override %s: %w", rec.ID, err)
	}
	return nil
}
