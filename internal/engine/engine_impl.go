package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/persistence"
	"github.com/petrijr/saksflyt/pkg/api"
)

// DefaultLeaseTTL bounds how long a crashed worker can block an event.
const DefaultLeaseTTL = 30 * time.Second

// Config describes how to construct an Orchestrator.
type Config struct {
	Persistence persistence.Persistence
	Publisher   api.NeedPublisher
	Observer    api.Observer
	Logger      *slog.Logger
	Clock       clock.Clock

	// LeaseTTL is the single-writer lease duration per event.
	LeaseTTL time.Duration

	// Owner prefixes the lease token of every handled delivery. Defaults to
	// a random UUID. Each call gets its own token, so concurrent calls for
	// one event are rejected even within a single Orchestrator.
	Owner string
}

// Orchestrator drives event pipelines: it persists (position, state) per
// event and resumes from the first incomplete step when a solution arrives.
// It is safe for concurrent use; writes to one event are serialized by a
// store lease plus an optimistic version check.
type Orchestrator struct {
	records   persistence.RecordStore
	history   persistence.HistoryStore
	publisher api.NeedPublisher
	observer  api.Observer
	logger    *slog.Logger
	clock     clock.Clock
	leaseTTL  time.Duration
	owner     string

	registry *pipelineRegistry
}

var _ api.Orchestrator = (*Orchestrator)(nil)

type discardPublisher struct{}

func (discardPublisher) PublishNeeds(ctx context.Context, ev api.Event, needs []api.Need) error {
	return nil
}

// NewOrchestrator creates an Orchestrator using the given configuration.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		records:   cfg.Persistence.Records,
		history:   cfg.Persistence.History,
		publisher: cfg.Publisher,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		leaseTTL:  cfg.LeaseTTL,
		owner:     cfg.Owner,
		registry:  newPipelineRegistry(),
	}
	if o.records == nil {
		mem := persistence.NewInMemoryStore()
		o.records = mem
		if o.history == nil {
			o.history = mem
		}
	}
	if o.history == nil {
		o.history = persistence.NoopHistoryStore{}
	}
	if o.publisher == nil {
		o.publisher = discardPublisher{}
	}
	if o.observer == nil {
		o.observer = api.NoopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.System{}
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = DefaultLeaseTTL
	}
	if o.owner == "" {
		o.owner = uuid.NewString()
	}
	return o
}

// NewInMemoryOrchestrator returns an Orchestrator whose records and history
// live in process memory.
func NewInMemoryOrchestrator(pub api.NeedPublisher) *Orchestrator {
	mem := persistence.NewInMemoryStore()
	return NewOrchestrator(Config{
		Persistence: persistence.Persistence{Records: mem, History: mem},
		Publisher:   pub,
	})
}

// Register installs the pipeline for def.EventType. Registering the same
// event type twice is an error.
func (o *Orchestrator) Register(def api.PipelineDefinition) error {
	return o.registry.Register(def)
}

// EventTypes lists the event types with a registered pipeline.
func (o *Orchestrator) EventTypes() []api.EventType {
	types := o.registry.Types()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HandleEvent records a new event and drives its pipeline until the first
// suspension or the end. A repeated delivery of a known event is resolved by
// its current status instead of starting over.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev api.Event) (*api.EventRecord, error) {
	if ev.ID == "" {
		return nil, fmt.Errorf("event id is required: %w", api.ErrPermanent)
	}
	def, err := o.registry.Get(ev.Type)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	rec := &api.EventRecord{
		Event:     ev,
		Status:    api.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.records.Create(ctx, rec); err != nil {
		if errors.Is(err, persistence.ErrRecordExists) {
			return o.redelivered(ctx, ev.ID)
		}
		return nil, err
	}

	o.appendHistory(ctx, rec, api.HistoryEventReceived, -1, "")
	o.observer.OnEventStart(ctx, rec)

	var out *api.EventRecord
	err = o.withLease(ctx, ev.ID, func() error {
		cur, err := o.records.Get(ctx, ev.ID)
		if err != nil {
			return err
		}
		ec, err := api.RestoreExecutionContext(cur.Event, cur.State)
		if err != nil {
			return err
		}
		out, err = o.run(ctx, def, cur, ec)
		return err
	})
	return out, err
}

// redelivered handles a repeated delivery of a known event.
func (o *Orchestrator) redelivered(ctx context.Context, eventID string) (*api.EventRecord, error) {
	rec, err := o.records.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case api.StatusCompleted, api.StatusFailed:
		o.logger.DebugContext(ctx, "duplicate_event_ignored",
			slog.String("event_id", eventID),
			slog.String("status", string(rec.Status)),
		)
		return rec, nil

	case api.StatusWaiting:
		if err := o.Republish(ctx, eventID); err != nil {
			return rec, err
		}
		return rec, nil
	}

	// Still RUNNING: the previous attempt died before persisting a
	// suspension point. Drive it again from the persisted position.
	def, err := o.registry.Get(rec.Event.Type)
	if err != nil {
		return rec, err
	}
	var out *api.EventRecord
	err = o.withLease(ctx, eventID, func() error {
		cur, err := o.records.Get(ctx, eventID)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			out = cur
			return nil
		}
		ec, err := api.RestoreExecutionContext(cur.Event, cur.State)
		if err != nil {
			return err
		}
		out, err = o.run(ctx, def, cur, ec)
		return err
	})
	return out, err
}

// HandleSolution applies s to its waiting event and resumes the pipeline at
// the persisted position. Solutions for kinds that are not outstanding are
// recorded in history and ignored.
func (o *Orchestrator) HandleSolution(ctx context.Context, s api.Solution) (*api.EventRecord, error) {
	rec, err := o.inFlight(ctx, s.EventID)
	if err != nil {
		return nil, err
	}
	def, err := o.registry.Get(rec.Event.Type)
	if err != nil {
		return rec, err
	}

	var out *api.EventRecord
	err = o.withLease(ctx, s.EventID, func() error {
		// Re-read under the lease; the record may have moved on.
		cur, err := o.inFlight(ctx, s.EventID)
		if err != nil {
			return err
		}
		ec, err := api.RestoreExecutionContext(cur.Event, cur.State)
		if err != nil {
			return err
		}

		if !ec.AddSolution(s) {
			o.logger.InfoContext(ctx, "solution_ignored",
				slog.String("event_id", s.EventID),
				slog.String("need", string(s.Kind)),
			)
			o.appendHistory(ctx, cur, api.HistorySolutionIgnored, cur.Position, string(s.Kind))
			out = cur
			return nil
		}

		o.observer.OnEventResumed(ctx, cur, s.Kind)
		out, err = o.run(ctx, def, cur, ec)
		if err == nil || errors.Is(err, api.ErrNeedsNotPublished) || api.IsPermanent(err) {
			o.appendHistory(ctx, cur, api.HistorySolutionApplied, -1, string(s.Kind))
		}
		return err
	})
	return out, err
}

// inFlight loads a record that can still accept solutions.
func (o *Orchestrator) inFlight(ctx context.Context, eventID string) (*api.EventRecord, error) {
	rec, err := o.records.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, fmt.Errorf("event %s: %w", eventID, api.ErrNoMatchingEvent)
		}
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("event %s is %s: %w", eventID, rec.Status, api.ErrNoMatchingEvent)
	}
	return rec, nil
}

// Republish publishes the outstanding needs of a waiting event again.
func (o *Orchestrator) Republish(ctx context.Context, eventID string) error {
	rec, err := o.inFlight(ctx, eventID)
	if err != nil {
		return err
	}
	ec, err := api.RestoreExecutionContext(rec.Event, rec.State)
	if err != nil {
		return err
	}
	return o.publish(ctx, rec, ec.PendingNeeds())
}

// Get returns the persisted record for eventID.
func (o *Orchestrator) Get(ctx context.Context, eventID string) (*api.EventRecord, error) {
	rec, err := o.records.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, err)
	}
	return rec, nil
}

// List returns persisted records matching filter.
func (o *Orchestrator) List(ctx context.Context, filter persistence.RecordFilter) ([]*api.EventRecord, error) {
	return o.records.List(ctx, filter)
}

// History returns the lifecycle entries recorded for eventID, oldest first.
func (o *Orchestrator) History(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	return o.history.ListHistory(ctx, eventID)
}

// withLease runs fn while holding the event lease under a token unique to
// this call.
func (o *Orchestrator) withLease(ctx context.Context, eventID string, fn func() error) error {
	owner := o.owner + "/" + uuid.NewString()
	acquired, err := o.records.TryAcquireLease(ctx, eventID, owner, o.leaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("event %s is leased by another worker: %w", eventID, api.ErrPersistenceConflict)
	}
	defer func() {
		if err := o.records.ReleaseLease(context.WithoutCancel(ctx), eventID, owner); err != nil {
			o.logger.WarnContext(ctx, "lease_release_failed",
				slog.String("event_id", eventID),
				slog.Any("error", err),
			)
		}
	}()
	return fn()
}

// run drives the pipeline from rec.Position until a step suspends, fails or
// the pipeline ends. Non-permanent step errors leave the persisted record
// untouched.
func (o *Orchestrator) run(ctx context.Context, def api.PipelineDefinition, rec *api.EventRecord, ec *api.ExecutionContext) (*api.EventRecord, error) {
	var completed []int

	for i := rec.Position; i < len(def.Steps); i++ {
		step := def.Steps[i]

		startTime := time.Now()
		o.observer.OnStepStart(ctx, rec, step.Name(), i)

		complete, err := ec.RunStep(ctx, i, step)

		o.observer.OnStepCompleted(ctx, rec, step.Name(), i, complete, err, time.Since(startTime))

		if err != nil {
			err = fmt.Errorf("event %s step %q: %w", rec.Event.ID, step.Name(), err)
			if api.IsPermanent(err) {
				return o.fail(ctx, rec, ec, err)
			}
			return rec, err
		}
		if !complete {
			rec.Position = i
			return o.suspend(ctx, rec, ec, completed)
		}

		rec.Position = i + 1
		completed = append(completed, i)
		if ec.Terminal() {
			break
		}
	}

	return o.complete(ctx, def, rec, ec, completed)
}

func (o *Orchestrator) suspend(ctx context.Context, rec *api.EventRecord, ec *api.ExecutionContext, completed []int) (*api.EventRecord, error) {
	rec.Status = api.StatusWaiting
	if err := o.persist(ctx, rec, ec); err != nil {
		return rec, err
	}
	o.stepHistory(ctx, rec, completed)

	pending := ec.PendingNeeds()
	o.appendHistory(ctx, rec, api.HistoryEventSuspended, rec.Position, needKinds(pending))
	o.observer.OnEventSuspended(ctx, rec, pending)

	if err := o.publish(ctx, rec, ec.NewNeeds()); err != nil {
		return rec, err
	}
	return rec, nil
}

func (o *Orchestrator) complete(ctx context.Context, def api.PipelineDefinition, rec *api.EventRecord, ec *api.ExecutionContext, completed []int) (*api.EventRecord, error) {
	rec.Status = api.StatusCompleted
	rec.Position = len(def.Steps)
	if err := o.persist(ctx, rec, ec); err != nil {
		return rec, err
	}
	o.stepHistory(ctx, rec, completed)
	o.appendHistory(ctx, rec, api.HistoryEventCompleted, -1, "")
	o.observer.OnEventCompleted(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) fail(ctx context.Context, rec *api.EventRecord, ec *api.ExecutionContext, cause error) (*api.EventRecord, error) {
	rec.Status = api.StatusFailed
	rec.Err = cause.Error()
	if err := o.persist(ctx, rec, ec); err != nil {
		return rec, err
	}
	o.appendHistory(ctx, rec, api.HistoryEventFailed, rec.Position, rec.Err)
	o.observer.OnEventFailed(ctx, rec, cause)
	return rec, cause
}

func (o *Orchestrator) persist(ctx context.Context, rec *api.EventRecord, ec *api.ExecutionContext) error {
	state, err := ec.Encode()
	if err != nil {
		return err
	}
	rec.State = state
	rec.UpdatedAt = o.clock.Now()
	return o.records.Update(ctx, rec)
}

func (o *Orchestrator) publish(ctx context.Context, rec *api.EventRecord, needs []api.Need) error {
	if len(needs) == 0 {
		return nil
	}
	if err := o.publisher.PublishNeeds(ctx, rec.Event, needs); err != nil {
		return fmt.Errorf("event %s: %w: %v", rec.Event.ID, api.ErrNeedsNotPublished, err)
	}
	o.appendHistory(ctx, rec, api.HistoryNeedPublished, rec.Position, needKinds(needs))
	return nil
}

func (o *Orchestrator) stepHistory(ctx context.Context, rec *api.EventRecord, completed []int) {
	for _, i := range completed {
		o.appendHistory(ctx, rec, api.HistoryStepCompleted, i, "")
	}
}

// appendHistory is best-effort; history never fails event processing.
func (o *Orchestrator) appendHistory(ctx context.Context, rec *api.EventRecord, typ api.HistoryType, step int, detail string) {
	err := o.history.AppendHistory(ctx, api.HistoryEntry{
		EventID:   rec.Event.ID,
		At:        o.clock.Now(),
		Type:      typ,
		EventType: rec.Event.Type,
		Step:      step,
		Detail:    detail,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "history_append_failed",
			slog.String("event_id", rec.Event.ID),
			slog.String("type", string(typ)),
			slog.Any("error", err),
		)
	}
}

func needKinds(needs []api.Need) string {
	kinds := make([]string, len(needs))
	for i, n := range needs {
		kinds[i] = string(n.Kind)
	}
	return strings.Join(kinds, ",")
}
