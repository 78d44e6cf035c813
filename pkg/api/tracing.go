package api

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/petrijr/saksflyt"

// TracingObserver records one span per top-level step invocation and an
// event for every suspension.
type TracingObserver struct {
	NoopObserver

	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracingObserver returns a TracingObserver using tp. If tp is nil the
// global tracer provider is used.
func NewTracingObserver(tp trace.TracerProvider) *TracingObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingObserver{
		tracer: tp.Tracer(tracerName),
		spans:  make(map[string]trace.Span),
	}
}

func spanKey(rec *EventRecord, idx int) string {
	return rec.Event.ID + "/" + strconv.Itoa(idx)
}

func (o *TracingObserver) OnStepStart(ctx context.Context, rec *EventRecord, name string, idx int) {
	_, span := o.tracer.Start(ctx, "step "+name,
		trace.WithAttributes(
			attribute.String("saksflyt.event_id", rec.Event.ID),
			attribute.String("saksflyt.event_type", string(rec.Event.Type)),
			attribute.Int("saksflyt.step_index", idx),
		),
	)
	o.mu.Lock()
	o.spans[spanKey(rec, idx)] = span
	o.mu.Unlock()
}

func (o *TracingObserver) OnStepCompleted(ctx context.Context, rec *EventRecord, name string, idx int, complete bool, err error, d time.Duration) {
	key := spanKey(rec, idx)
	o.mu.Lock()
	span, ok := o.spans[key]
	delete(o.spans, key)
	o.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.Bool("saksflyt.step_complete", complete))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *TracingObserver) OnEventSuspended(ctx context.Context, rec *EventRecord, needs []Need) {
	kinds := make([]string, len(needs))
	for i, n := range needs {
		kinds[i] = string(n.Kind)
	}
	trace.SpanFromContext(ctx).AddEvent("event suspended",
		trace.WithAttributes(
			attribute.String("saksflyt.event_id", rec.Event.ID),
			attribute.StringSlice("saksflyt.needs", kinds),
		),
	)
}
