// Package worker consumes the message bus and drives the orchestrator:
// hendelse documents start or redeliver events, losning documents resume
// them. Several workers may share one bus; the orchestrator serializes
// writes per event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/pkg/api"
)

// Orchestrator is the part of the engine a worker drives.
type Orchestrator interface {
	HandleEvent(ctx context.Context, ev api.Event) (*api.EventRecord, error)
	HandleSolution(ctx context.Context, s api.Solution) (*api.EventRecord, error)
	Republish(ctx context.Context, eventID string) error
}

// Config controls retry behavior for messages that failed transiently.
type Config struct {
	// MaxAttempts is the total number of deliveries of one message,
	// including the first. Values < 1 mean 1.
	MaxAttempts int

	// Backoff is waited before the first redelivery of a failed message.
	// Later redeliveries wait Backoff * Multiplier^n, capped at MaxBackoff
	// when that is positive. A Multiplier <= 1 keeps the delay constant.
	Backoff    time.Duration
	Multiplier float64
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// DefaultMaxAttempts is used by New.
const DefaultMaxAttempts = 5

// Worker pulls messages from a Bus and hands them to an Orchestrator.
type Worker struct {
	orch Orchestrator
	bus  bus.Bus
	cfg  Config
}

// New creates a Worker with DefaultMaxAttempts and no backoff.
func New(orch Orchestrator, b bus.Bus) *Worker {
	return NewWithConfig(orch, b, Config{MaxAttempts: DefaultMaxAttempts})
}

func NewWithConfig(orch Orchestrator, b bus.Bus, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{orch: orch, bus: b, cfg: cfg}
}

// PublishEvent puts ev on the bus as a hendelse document. It does not run
// the pipeline; ProcessOne does.
func (w *Worker) PublishEvent(ctx context.Context, ev api.Event) error {
	m, err := bus.EventDocument(ev)
	if err != nil {
		return err
	}
	return w.bus.Publish(ctx, m)
}

// ProcessOne receives one message and handles it. It returns
// (false, err) when no message could be received, and (true, err) once a
// message was taken off the bus, where err is the failure that caused the
// message to be dropped. A message put back for another attempt yields
// (true, nil).
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	m, err := w.bus.Receive(ctx, bus.TopicEvent, bus.TopicSolution)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	return true, w.settle(ctx, m, w.handle(ctx, m))
}

func (w *Worker) handle(ctx context.Context, m *bus.Message) error {
	switch m.Topic {
	case bus.TopicEvent:
		ev, err := bus.DecodeEvent(*m)
		if err != nil {
			return err
		}
		_, err = w.orch.HandleEvent(ctx, ev)
		return w.finishPublish(ctx, ev.ID, err)

	case bus.TopicSolution:
		solutions, err := bus.DecodeSolutions(*m)
		if err != nil {
			return err
		}
		var errs []error
		for _, s := range solutions {
			_, err := w.orch.HandleSolution(ctx, s)
			if errors.Is(err, api.ErrNoMatchingEvent) {
				w.cfg.Logger.WarnContext(ctx, "solution_without_event",
					slog.String("message_id", m.ID),
					slog.String("event_id", s.EventID),
					slog.String("need", string(s.Kind)),
				)
				continue
			}
			if err := w.finishPublish(ctx, s.EventID, err); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return fmt.Errorf("message %s on unexpected topic %q", m.ID, m.Topic)
}

// finishPublish completes an attempt whose progress was saved but whose
// needs were not published.
func (w *Worker) finishPublish(ctx context.Context, eventID string, err error) error {
	if !errors.Is(err, api.ErrNeedsNotPublished) {
		return err
	}
	if rerr := w.orch.Republish(ctx, eventID); rerr != nil {
		return fmt.Errorf("republish needs of event %s: %w", eventID, rerr)
	}
	return nil
}

// dropped reports whether err can never succeed on redelivery.
func dropped(err error) bool {
	return errors.Is(err, bus.ErrMalformedDocument) ||
		errors.Is(err, api.ErrUnknownEventType) ||
		api.IsPermanent(err)
}

// settle decides what happens to m after handling it.
func (w *Worker) settle(ctx context.Context, m *bus.Message, err error) error {
	log := w.cfg.Logger.With(
		slog.String("message_id", m.ID),
		slog.String("topic", string(m.Topic)),
		slog.Int("attempt", m.Attempts+1),
	)

	switch {
	case err == nil:
		return nil

	case dropped(err):
		log.ErrorContext(ctx, "message_dropped", slog.Any("error", err))
		return err
	}

	if m.Attempts+1 >= w.cfg.MaxAttempts {
		log.ErrorContext(ctx, "message_attempts_exhausted", slog.Any("error", err))
		return fmt.Errorf("message %s after %d attempts: %w", m.ID, m.Attempts+1, err)
	}

	delay := w.backoff(m.Attempts)
	log.InfoContext(ctx, "message_retry", slog.Any("error", err), slog.Duration("backoff", delay))
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	retry := *m
	retry.Attempts++
	if perr := w.bus.Publish(ctx, retry); perr != nil {
		return fmt.Errorf("requeue message %s: %w (handling failed: %w)", m.ID, perr, err)
	}
	return nil
}

// backoff returns the delay before redelivery number attempts+1.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.Backoff
	if d <= 0 {
		return 0
	}
	if w.cfg.Multiplier > 1 {
		for i := 0; i < attempts; i++ {
			d = time.Duration(float64(d) * w.cfg.Multiplier)
			if w.cfg.MaxBackoff > 0 && d >= w.cfg.MaxBackoff {
				return w.cfg.MaxBackoff
			}
		}
	}
	if w.cfg.MaxBackoff > 0 && d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

// Run starts n workers that process messages until ctx is done. Handling
// failures are logged and do not stop the workers.
func (w *Worker) Run(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for {
				processed, err := w.ProcessOne(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil && !processed {
					return fmt.Errorf("receive: %w", err)
				}
				if err != nil {
					w.cfg.Logger.DebugContext(ctx, "message_failed", slog.Any("error", err))
				}
			}
		})
	}
	return g.Wait()
}
