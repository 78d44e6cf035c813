package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/engine"
	"github.com/petrijr/saksflyt/pkg/api"
)

// scriptedOrchestrator returns queued errors in order, then nil.
type scriptedOrchestrator struct {
	mu          sync.Mutex
	errs        []error
	events      []api.Event
	solutions   []api.Solution
	republished []string
}

func (o *scriptedOrchestrator) next() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.errs) == 0 {
		return nil
	}
	err := o.errs[0]
	o.errs = o.errs[1:]
	return err
}

func (o *scriptedOrchestrator) HandleEvent(ctx context.Context, ev api.Event) (*api.EventRecord, error) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
	return &api.EventRecord{Event: ev}, o.next()
}

func (o *scriptedOrchestrator) HandleSolution(ctx context.Context, s api.Solution) (*api.EventRecord, error) {
	o.mu.Lock()
	o.solutions = append(o.solutions, s)
	o.mu.Unlock()
	return nil, o.next()
}

func (o *scriptedOrchestrator) Republish(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.republished = append(o.republished, eventID)
	return nil
}

func testEvent(id string) api.Event {
	return api.Event{ID: id, Type: "godkjenningsbehov", Subject: "12345678910", Episode: "P1"}
}

func timeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWorker_ResolvesNeedsEndToEnd(t *testing.T) {
	ctx := timeout(t)
	b := bus.NewInMemoryBus()
	orch := engine.NewInMemoryOrchestrator(bus.NewNeedPublisher(b))

	var unit string
	require.NoError(t, orch.Register(api.PipelineDefinition{
		EventType: "godkjenningsbehov",
		Steps: []api.Step{
			api.AwaitNeed("enhet", "HentEnhet", nil, func(ctx context.Context, ec *api.ExecutionContext, answer json.RawMessage) error {
				return json.Unmarshal(answer, &unit)
			}),
		},
	}))
	w := New(orch, b)

	require.NoError(t, w.PublishEvent(ctx, testEvent("E1")))
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	need, err := b.Receive(ctx, bus.TopicNeed)
	require.NoError(t, err)
	answer, err := bus.Solve(*need, map[api.NeedKind]json.RawMessage{"HentEnhet": json.RawMessage(`"2101"`)})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, answer))

	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, "2101", unit)

	rec, err := orch.Get(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)

	// A late duplicate answer is logged and dropped.
	require.NoError(t, b.Publish(ctx, answer))
	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 0, b.Len(bus.TopicSolution))
}

func TestWorker_RequeuesConflicts(t *testing.T) {
	ctx := timeout(t)
	b := bus.NewInMemoryBus()
	orch := &scriptedOrchestrator{errs: []error{api.ErrPersistenceConflict}}
	w := NewWithConfig(orch, b, Config{MaxAttempts: 3, Backoff: time.Millisecond})

	require.NoError(t, w.PublishEvent(ctx, testEvent("E1")))
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 1, b.Len(bus.TopicEvent))

	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 0, b.Len(bus.TopicEvent))
	require.Len(t, orch.events, 2)
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := timeout(t)
	b := bus.NewInMemoryBus()
	transient := errors.New("database unavailable")
	orch := &scriptedOrchestrator{errs: []error{transient, transient, transient}}
	w := NewWithConfig(orch, b, Config{MaxAttempts: 2})

	require.NoError(t, w.PublishEvent(ctx, testEvent("E1")))
	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.ErrorIs(t, err, transient)
	require.Equal(t, 0, b.Len(bus.TopicEvent))
}

func TestWorker_DropsPermanentFailures(t *testing.T) {
	tests := map[string]error{
		"permanent":    api.ErrPermanent,
		"caseworker":   api.ErrIdentityMismatch,
		"unknown type": api.ErrUnknownEventType,
	}
	for name, failure := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := timeout(t)
			b := bus.NewInMemoryBus()
			w := New(&scriptedOrchestrator{errs: []error{failure}}, b)

			require.NoError(t, w.PublishEvent(ctx, testEvent("E1")))
			processed, err := w.ProcessOne(ctx)
			require.True(t, processed)
			require.ErrorIs(t, err, failure)
			require.Equal(t, 0, b.Len(bus.TopicEvent))
		})
	}
}

func TestWorker_DropsMalformedDocuments(t *testing.T) {
	ctx := timeout(t)
	b := bus.NewInMemoryBus()
	orch := &scriptedOrchestrator{}
	w := New(orch, b)

	require.NoError(t, b.Publish(ctx, bus.Message{Topic: bus.TopicSolution, Body: json.RawMessage(`{"hendelseId":"E1"}`)}))
	processed, err := w.ProcessOne(ctx)
	require.True(t, processed)
	require.ErrorIs(t, err, bus.ErrMalformedDocument)
	require.Empty(t, orch.solutions)
}

func TestWorker_RepublishesUnpublishedNeeds(t *testing.T) {
	ctx := timeout(t)
	b := bus.NewInMemoryBus()
	orch := &scriptedOrchestrator{errs: []error{api.ErrNeedsNotPublished}}
	w := New(orch, b)

	require.NoError(t, w.PublishEvent(ctx, testEvent("E1")))
	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []string{"E1"}, orch.republished)
	require.Equal(t, 0, b.Len(bus.TopicEvent))
}

func TestWorker_RunProcessesUntilCanceled(t *testing.T) {
	b := bus.NewInMemoryBus()
	orch := &scriptedOrchestrator{}
	w := New(orch, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"E1", "E2", "E3", "E4"} {
		require.NoError(t, w.PublishEvent(ctx, testEvent(id)))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 3) }()

	require.Eventually(t, func() bool {
		orch.mu.Lock()
		defer orch.mu.Unlock()
		return len(orch.events) == 4
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWorker_BackoffGrowsToCap(t *testing.T) {
	w := NewWithConfig(nil, nil, Config{
		Backoff:    10 * time.Millisecond,
		Multiplier: 2,
		MaxBackoff: 50 * time.Millisecond,
	})
	require.Equal(t, 10*time.Millisecond, w.backoff(0))
	require.Equal(t, 20*time.Millisecond, w.backoff(1))
	require.Equal(t, 40*time.Millisecond, w.backoff(2))
	require.Equal(t, 50*time.Millisecond, w.backoff(3))
	require.Equal(t, 50*time.Millisecond, w.backoff(10))

	constant := NewWithConfig(nil, nil, Config{Backoff: 10 * time.Millisecond})
	require.Equal(t, 10*time.Millisecond, constant.backoff(4))

	none := NewWithConfig(nil, nil, Config{})
	require.Zero(t, none.backoff(3))
}
