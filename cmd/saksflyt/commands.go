package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/persistence"
	"github.com/petrijr/saksflyt/internal/telemetry"
	"github.com/petrijr/saksflyt/pkg/api"
)

func (c *cli) serveCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume events and solutions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if workers < 1 {
					workers = a.cfg.Worker.Count
				}
				return serve(ctx, a, workers)
			})
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (default worker.count)")
	return cmd
}

func serve(ctx context.Context, a *app, workers int) error {
	tp, err := telemetry.Setup(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	var metrics api.BasicMetrics
	orch, err := a.orchestrator(tp, &metrics)
	if err != nil {
		return err
	}

	a.logger.Info("serve_started",
		"workers", workers,
		"event_types", orch.EventTypes(),
		"store", a.cfg.Store.Driver,
		"bus", a.cfg.Bus.Driver,
		"tracing", tp.Enabled(),
	)
	err = a.worker(orch).Run(ctx, workers)

	snap := metrics.Snapshot()
	a.logger.Info("serve_stopped",
		"events_started", snap.EventsStarted,
		"events_completed", snap.EventsCompleted,
		"events_failed", snap.EventsFailed,
		"events_in_flight", snap.InFlightEvents,
		"avg_step_duration", snap.AvgStepDuration,
	)
	return err
}

func (c *cli) publishCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "publish", Short: "Put documents on the message bus"}
	cmd.AddCommand(c.publishEventCmd())
	cmd.AddCommand(c.publishSolutionCmd())
	return cmd
}

func (c *cli) publishEventCmd() *cobra.Command {
	var ev api.Event
	var eventType, payload string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Publish a hendelse document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventType == "" {
				return errors.New("--type required")
			}
			if payload != "" && !json.Valid([]byte(payload)) {
				return errors.New("--payload is not valid JSON")
			}
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			ev.Type = api.EventType(eventType)
			if payload != "" {
				ev.Payload = json.RawMessage(payload)
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := requireSharedBus(a); err != nil {
					return err
				}
				m, err := bus.EventDocument(ev)
				if err != nil {
					return err
				}
				if err := a.bus.Publish(ctx, m); err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.out, ev.ID)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&ev.ID, "id", "", "event id (default random)")
	f.StringVar(&eventType, "type", "", "event type")
	f.StringVar(&ev.Subject, "subject", "", "national identity number")
	f.StringVar(&ev.Episode, "episode", "", "episode (periode) id")
	f.StringVar(&payload, "payload", "", "JSON payload")
	return cmd
}

func (c *cli) publishSolutionCmd() *cobra.Command {
	var eventID, subject, kind, answer string
	cmd := &cobra.Command{
		Use:   "solution",
		Short: "Publish a løsning document answering one need",
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID == "" || kind == "" {
				return errors.New("--event and --kind required")
			}
			if !json.Valid([]byte(answer)) {
				return errors.New("--answer is not valid JSON")
			}
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := requireSharedBus(a); err != nil {
					return err
				}
				m, err := bus.SolutionDocument(eventID, subject, map[api.NeedKind]json.RawMessage{
					api.NeedKind(kind): json.RawMessage(answer),
				})
				if err != nil {
					return err
				}
				return a.bus.Publish(ctx, m)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&eventID, "event", "", "event id the need belongs to")
	f.StringVar(&subject, "subject", "", "national identity number")
	f.StringVar(&kind, "kind", "", "need kind, e.g. Vergemål")
	f.StringVar(&answer, "answer", "{}", "JSON answer")
	return cmd
}

func requireSharedBus(a *app) error {
	if a.cfg.Bus.Driver == "memory" {
		return errors.New("the memory bus is private to one process; use bus.driver sqlite or redis")
	}
	return nil
}

// recordView is the printable form of an event record.
type recordView struct {
	ID        string    `json:"id" yaml:"id"`
	Type      string    `json:"type" yaml:"type"`
	Subject   string    `json:"subject" yaml:"subject"`
	Episode   string    `json:"episode,omitempty" yaml:"episode,omitempty"`
	Status    string    `json:"status" yaml:"status"`
	Position  int       `json:"position" yaml:"position"`
	Version   int64     `json:"version" yaml:"version"`
	Pending   []string  `json:"pending,omitempty" yaml:"pending,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func viewRecord(rec *api.EventRecord) recordView {
	v := recordView{
		ID:        rec.Event.ID,
		Type:      string(rec.Event.Type),
		Subject:   rec.Event.Subject,
		Episode:   rec.Event.Episode,
		Status:    string(rec.Status),
		Position:  rec.Position,
		Version:   rec.Version,
		Error:     rec.Err,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if ec, err := api.RestoreExecutionContext(rec.Event, rec.State); err == nil {
		for _, n := range ec.PendingNeeds() {
			v.Pending = append(v.Pending, string(n.Kind))
		}
	}
	return v
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status EVENT_ID",
		Short: "Show the record of one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rec, err := a.persistence.Records.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printRecords([]recordView{viewRecord(rec)})
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var status, eventType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List event records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				recs, err := a.persistence.Records.List(ctx, persistence.RecordFilter{
					EventType: api.EventType(eventType),
					Status:    api.Status(status),
				})
				if err != nil {
					return err
				}
				views := make([]recordView, len(recs))
				for i, rec := range recs {
					views[i] = viewRecord(rec)
				}
				return c.printRecords(views)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history EVENT_ID",
		Short: "Show the processing history of one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				entries, err := a.persistence.History.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printHistory(entries)
			})
		},
	}
}

func (c *cli) auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit PAYOUT_REF",
		Short: "Show the casework audit trail of one payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				entries, err := casework.NewCaseService(a.cases).Audit(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printAudit(entries)
			})
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = c.out.Write(out)
			return err
		},
	}
}
