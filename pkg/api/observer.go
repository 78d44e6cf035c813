package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay event processing.
type Observer interface {
	// OnEventStart is called once when an event is first seen, before the
	// first step runs.
	OnEventStart(ctx context.Context, rec *EventRecord)

	// OnEventResumed is called when a solution resumes a waiting event.
	OnEventResumed(ctx context.Context, rec *EventRecord, kind NeedKind)

	// OnEventSuspended is called after an event was persisted waiting for
	// needs.
	OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need)

	// OnEventCompleted is called when the pipeline of an event finished.
	OnEventCompleted(ctx context.Context, rec *EventRecord)

	// OnEventFailed is called when a step error terminated the pipeline.
	OnEventFailed(ctx context.Context, rec *EventRecord, err error)

	// OnStepStart is called before a top-level step is driven.
	// stepIndex is the 0-based index into PipelineDefinition.Steps.
	OnStepStart(ctx context.Context, rec *EventRecord, stepName string, stepIndex int)

	// OnStepCompleted is called after a top-level step returned, whether it
	// completed, suspended or failed.
	OnStepCompleted(ctx context.Context, rec *EventRecord, stepName string, stepIndex int, complete bool, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnEventStart(ctx context.Context, rec *EventRecord)                    {}
func (NoopObserver) OnEventResumed(ctx context.Context, rec *EventRecord, kind NeedKind)   {}
func (NoopObserver) OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need)  {}
func (NoopObserver) OnEventCompleted(ctx context.Context, rec *EventRecord)                {}
func (NoopObserver) OnEventFailed(ctx context.Context, rec *EventRecord, err error)        {}
func (NoopObserver) OnStepStart(ctx context.Context, rec *EventRecord, name string, idx int) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, rec *EventRecord, name string, idx int, complete bool, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEventStart(ctx context.Context, rec *EventRecord) {
	for _, o := range c.observers {
		o.OnEventStart(ctx, rec)
	}
}

func (c *CompositeObserver) OnEventResumed(ctx context.Context, rec *EventRecord, kind NeedKind) {
	for _, o := range c.observers {
		o.OnEventResumed(ctx, rec, kind)
	}
}

func (c *CompositeObserver) OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need) {
	for _, o := range c.observers {
		o.OnEventSuspended(ctx, rec, needs)
	}
}

func (c *CompositeObserver) OnEventCompleted(ctx context.Context, rec *EventRecord) {
	for _, o := range c.observers {
		o.OnEventCompleted(ctx, rec)
	}
}

func (c *CompositeObserver) OnEventFailed(ctx context.Context, rec *EventRecord, err error) {
	for _, o := range c.observers {
		o.OnEventFailed(ctx, rec, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, rec *EventRecord, name string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, rec, name, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, rec *EventRecord, name string, idx int, complete bool, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, rec, name, idx, complete, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs event and step lifecycle
// callbacks using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnEventStart(ctx context.Context, rec *EventRecord) {
	o.Logger.InfoContext(ctx, "event_start",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
	)
}

func (o *LoggingObserver) OnEventResumed(ctx context.Context, rec *EventRecord, kind NeedKind) {
	o.Logger.InfoContext(ctx, "event_resumed",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
		slog.String("need", string(kind)),
		slog.Int("position", rec.Position),
	)
}

func (o *LoggingObserver) OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need) {
	kinds := make([]string, len(needs))
	for i, n := range needs {
		kinds[i] = string(n.Kind)
	}
	o.Logger.InfoContext(ctx, "event_suspended",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
		slog.Int("position", rec.Position),
		slog.Any("needs", kinds),
	)
}

func (o *LoggingObserver) OnEventCompleted(ctx context.Context, rec *EventRecord) {
	o.Logger.InfoContext(ctx, "event_completed",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
	)
}

func (o *LoggingObserver) OnEventFailed(ctx context.Context, rec *EventRecord, err error) {
	o.Logger.ErrorContext(ctx, "event_failed",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
		slog.Int("position", rec.Position),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, rec *EventRecord, name string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
		slog.String("step", name),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, rec *EventRecord, name string, idx int, complete bool, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("event_type", string(rec.Event.Type)),
		slog.String("event_id", rec.Event.ID),
		slog.String("step", name),
		slog.Int("step_index", idx),
		slog.Bool("complete", complete),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	eventsStarted     atomic.Int64
	eventsSuspended   atomic.Int64
	eventsResumed     atomic.Int64
	eventsCompleted   atomic.Int64
	eventsFailed      atomic.Int64
	stepsCompleted    atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	EventsStarted   int64
	EventsSuspended int64
	EventsResumed   int64
	EventsCompleted int64
	EventsFailed    int64
	InFlightEvents  int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnEventStart(ctx context.Context, rec *EventRecord) {
	m.eventsStarted.Add(1)
}

func (m *BasicMetrics) OnEventResumed(ctx context.Context, rec *EventRecord, kind NeedKind) {
	m.eventsResumed.Add(1)
}

func (m *BasicMetrics) OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need) {
	m.eventsSuspended.Add(1)
}

func (m *BasicMetrics) OnEventCompleted(ctx context.Context, rec *EventRecord) {
	m.eventsCompleted.Add(1)
}

func (m *BasicMetrics) OnEventFailed(ctx context.Context, rec *EventRecord, err error) {
	m.eventsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, rec *EventRecord, name string, idx int, complete bool, err error, d time.Duration) {
	// Only completed steps count toward the average duration.
	if err == nil && complete {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.eventsStarted.Load()
	completed := m.eventsCompleted.Load()
	failed := m.eventsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		EventsStarted:   started,
		EventsSuspended: m.eventsSuspended.Load(),
		EventsResumed:   m.eventsResumed.Load(),
		EventsCompleted: completed,
		EventsFailed:    failed,
		InFlightEvents:  started - completed - failed,
		StepsCompleted:  steps,
		AvgStepDuration: avg,
	}
}
