package saksflyt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/engine"
	"github.com/petrijr/saksflyt/internal/override"
	"github.com/petrijr/saksflyt/internal/persistence"
	"github.com/petrijr/saksflyt/internal/pipelines"
	"github.com/petrijr/saksflyt/internal/worker"
	"github.com/petrijr/saksflyt/pkg/api"
)

// LocalRunner bundles an orchestrator with the built-in pipelines, a bus and
// a worker pool in one process.
//
//	runner, _ := saksflyt.NewLocalRunner()
//	_ = runner.StartWorkers(ctx, 2)
//	defer runner.Stop()
//
//	_ = runner.Publish(ctx, ev)
//	needs, _ := runner.NextNeeds(ctx)
//	_ = runner.Answer(ctx, ev.ID, answers)
//	rec, _ := runner.WaitFor(ctx, ev.ID, saksflyt.StatusCompleted)
type LocalRunner struct {
	// Orchestrator drives the events. Calling it directly bypasses the bus.
	Orchestrator Orchestrator

	bus    bus.Bus
	worker *worker.Worker
	poll   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	running bool
}

// RunnerOption configures a runner.
type RunnerOption func(*runnerConfig)

type runnerConfig struct {
	logger       *slog.Logger
	observer     api.Observer
	foreignUnits []string
	worker       worker.Config
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(c *runnerConfig) { c.logger = l }
}

func WithObserver(o Observer) RunnerOption {
	return func(c *runnerConfig) { c.observer = o }
}

// WithForeignUnits replaces the units that raise the foreign-unit warning.
func WithForeignUnits(units ...string) RunnerOption {
	return func(c *runnerConfig) { c.foreignUnits = units }
}

// WithMaxAttempts bounds deliveries of a message that keeps failing.
func WithMaxAttempts(n int) RunnerOption {
	return func(c *runnerConfig) { c.worker.MaxAttempts = n }
}

func newRunnerConfig(opts []RunnerOption) runnerConfig {
	cfg := runnerConfig{
		logger: slog.Default(),
		worker: worker.Config{MaxAttempts: worker.DefaultMaxAttempts},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.worker.Logger = cfg.logger
	return cfg
}

// NewLocalRunner keeps everything in process memory. State is lost when
// the process exits.
func NewLocalRunner(opts ...RunnerOption) (*LocalRunner, error) {
	mem := persistence.NewInMemoryStore()
	return newRunner(
		persistence.Persistence{Records: mem, History: mem},
		bus.NewInMemoryBus(),
		pipelines.Stores{
			Cases:     casework.NewMemoryStore(),
			Overrides: override.NewMemoryStore(),
			Warnings:  advisory.NewMemoryWarningStore(),
			Facts:     advisory.NewMemoryFactCache(advisory.DefaultCacheTTL, clock.System{}),
		},
		newRunnerConfig(opts),
	)
}

func newRunner(p persistence.Persistence, b bus.Bus, stores pipelines.Stores, cfg runnerConfig) (*LocalRunner, error) {
	orch := engine.NewOrchestrator(engine.Config{
		Persistence: p,
		Publisher:   bus.NewNeedPublisher(b),
		Observer:    cfg.observer,
		Logger:      cfg.logger,
	})
	deps := pipelines.NewDeps(stores, b, cfg.foreignUnits, cfg.logger)
	if err := pipelines.Register(orch, deps); err != nil {
		return nil, err
	}
	return &LocalRunner{
		Orchestrator: orch,
		bus:          b,
		worker:       worker.NewWithConfig(orch, b, cfg.worker),
		poll:         10 * time.Millisecond,
	}, nil
}

// Register adds a custom pipeline next to the built-in ones.
func (r *LocalRunner) Register(def PipelineDefinition) error {
	return r.Orchestrator.Register(def)
}

// StartWorkers starts n workers consuming events and solutions until Stop.
func (r *LocalRunner) StartWorkers(ctx context.Context, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("saksflyt: runner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan error, 1)
	r.running = true
	go func(done chan<- error) {
		done <- r.worker.Run(ctx, n)
	}(r.done)
	return nil
}

// Stop cancels the workers and waits for them to exit.
func (r *LocalRunner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	return <-done
}

// Publish puts ev on the bus for the workers.
func (r *LocalRunner) Publish(ctx context.Context, ev Event) error {
	m, err := bus.EventDocument(ev)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, m)
}

// NextNeeds blocks until the orchestrator publishes needs and returns them.
func (r *LocalRunner) NextNeeds(ctx context.Context) ([]Need, error) {
	m, err := r.bus.Receive(ctx, bus.TopicNeed)
	if err != nil {
		return nil, err
	}
	return bus.DecodeNeeds(*m)
}

// Answer publishes solutions to needs of eventID.
func (r *LocalRunner) Answer(ctx context.Context, eventID string, answers map[NeedKind]json.RawMessage) error {
	var subject string
	if rec, err := r.Orchestrator.Get(ctx, eventID); err == nil {
		subject = rec.Event.Subject
	}
	m, err := bus.SolutionDocument(eventID, subject, answers)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, m)
}

// WaitFor polls until the event has one of statuses or ctx is done.
func (r *LocalRunner) WaitFor(ctx context.Context, eventID string, statuses ...Status) (*EventRecord, error) {
	t := time.NewTicker(r.poll)
	defer t.Stop()
	for {
		rec, err := r.Orchestrator.Get(ctx, eventID)
		if err == nil && slices.Contains(statuses, rec.Status) {
			return rec, nil
		}
		if err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for event %s: %w", eventID, ctx.Err())
		case <-t.C:
		}
	}
}
