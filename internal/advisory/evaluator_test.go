package advisory_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/engine"
	"github.com/petrijr/saksflyt/pkg/api"
)

const testType api.EventType = "varsler"

type fixture struct {
	orch     *engine.Orchestrator
	bus      *bus.InMemoryBus
	cache    *advisory.MemoryFactCache
	warnings *advisory.MemoryWarningStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	f := &fixture{
		bus:      bus.NewInMemoryBus(),
		cache:    advisory.NewMemoryFactCache(time.Hour, clk),
		warnings: advisory.NewMemoryWarningStore(),
	}
	f.orch = engine.NewInMemoryOrchestrator(bus.NewNeedPublisher(f.bus))
	ev := advisory.NewEvaluator(advisory.Config{Cache: f.cache, Warnings: f.warnings, Clock: clk})
	require.NoError(t, f.orch.Register(api.PipelineDefinition{EventType: testType, Steps: []api.Step{ev.Step()}}))
	return f
}

func event(id, episode string) api.Event {
	return api.Event{ID: id, Type: testType, Subject: "12345678910", Episode: episode}
}

func (f *fixture) solve(ctx context.Context, eventID string, kind api.NeedKind, payload string) error {
	for {
		_, err := f.orch.HandleSolution(ctx, api.Solution{EventID: eventID, Kind: kind, Payload: json.RawMessage(payload)})
		if errors.Is(err, api.ErrPersistenceConflict) {
			continue
		}
		return err
	}
}

func codes(ws []advisory.Warning) []advisory.Code {
	out := make([]advisory.Code, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

func TestEvaluator_RequestsBothFactsAtOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)
	require.Equal(t, api.StatusWaiting, rec.Status)

	require.Equal(t, 1, f.bus.Len(bus.TopicNeed))
	msg, err := f.bus.Receive(ctx, bus.TopicNeed)
	require.NoError(t, err)
	require.Equal(t, []api.NeedKind{advisory.NeedGuardianship, advisory.NeedUnit}, bus.NeedKinds(msg.Body))
}

func TestEvaluator_DuplicateGuardianshipSolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)

	// Two workers receive the same fulfilment for E1 at the same time.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.solve(ctx, "E1", advisory.NeedGuardianship, `{"harVergemål":true}`)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, f.solve(ctx, "E1", advisory.NeedUnit, `"0301"`))

	// A late redelivery after completion finds no in-flight event.
	err = f.solve(ctx, "E1", advisory.NeedGuardianship, `{"harVergemål":true}`)
	require.ErrorIs(t, err, api.ErrNoMatchingEvent)

	rec, err := f.orch.Get(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)

	ws, err := f.warnings.List(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, []advisory.Code{advisory.CodeGuardianship}, codes(ws))
	require.Equal(t, "E1", ws[0].Source)
}

func TestEvaluator_BothWarningsAndCacheHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)
	require.NoError(t, f.solve(ctx, "E1", advisory.NeedUnit, `"2101"`))
	require.NoError(t, f.solve(ctx, "E1", advisory.NeedGuardianship, `{"harVergemål":true}`))

	ws, err := f.warnings.List(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, []advisory.Code{advisory.CodeGuardianship, advisory.CodeForeignUnit}, codes(ws))

	// Facts were written through, so a new event for the subject does not
	// suspend.
	before := f.bus.Len(bus.TopicNeed)
	rec, err := f.orch.HandleEvent(ctx, event("E2", "P2"))
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)
	require.Equal(t, before, f.bus.Len(bus.TopicNeed))

	ws, err = f.warnings.List(ctx, "P2")
	require.NoError(t, err)
	require.Len(t, ws, 2)
}

func TestEvaluator_ReRunDoesNotDuplicateCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Put(ctx, advisory.NeedGuardianship, "12345678910", json.RawMessage(`{"harVergemål":true}`)))
	require.NoError(t, f.cache.Put(ctx, advisory.NeedUnit, "12345678910", json.RawMessage(`"2101"`)))

	for _, id := range []string{"E1", "E2", "E3"} {
		rec, err := f.orch.HandleEvent(ctx, event(id, "P1"))
		require.NoError(t, err)
		require.Equal(t, api.StatusCompleted, rec.Status)
	}

	ws, err := f.warnings.List(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, ws, 2)
	require.Equal(t, "E1", ws[0].Source)
}

func TestEvaluator_MalformedAnswerFailsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)
	require.NoError(t, f.solve(ctx, "E1", advisory.NeedUnit, `"0301"`))
	err = f.solve(ctx, "E1", advisory.NeedGuardianship, `"ja"`)
	require.ErrorIs(t, err, api.ErrPermanent)

	rec, err := f.orch.Get(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, api.StatusFailed, rec.Status)

	_, cached, err := f.cache.Get(ctx, advisory.NeedGuardianship, "12345678910")
	require.NoError(t, err)
	require.False(t, cached, "malformed answer must not be cached")

	// A later event for the subject asks again instead of failing.
	for f.bus.Len(bus.TopicNeed) > 0 {
		_, err := f.bus.Receive(ctx, bus.TopicNeed)
		require.NoError(t, err)
	}
	rec, err = f.orch.HandleEvent(ctx, event("E2", "P1"))
	require.NoError(t, err)
	require.Equal(t, api.StatusWaiting, rec.Status)
	msg, err := f.bus.Receive(ctx, bus.TopicNeed)
	require.NoError(t, err)
	require.Equal(t, []api.NeedKind{advisory.NeedGuardianship}, bus.NeedKinds(msg.Body))
}

func TestEvaluator_UnreadableCachedFactIsRequestedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Put(ctx, advisory.NeedUnit, "12345678910", json.RawMessage(`{"enhet":"0301"}`)))
	require.NoError(t, f.cache.Put(ctx, advisory.NeedGuardianship, "12345678910", json.RawMessage(`{"harVergemål":true}`)))

	rec, err := f.orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)
	require.Equal(t, api.StatusWaiting, rec.Status)
	msg, err := f.bus.Receive(ctx, bus.TopicNeed)
	require.NoError(t, err)
	require.Equal(t, []api.NeedKind{advisory.NeedUnit}, bus.NeedKinds(msg.Body))

	require.NoError(t, f.solve(ctx, "E1", advisory.NeedUnit, `"2101"`))
	rec, err = f.orch.Get(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)

	fact, ok, err := f.cache.Get(ctx, advisory.NeedUnit, "12345678910")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"2101"`, string(fact))
}

func TestEvaluator_ForeignUnitsAreConfigurable(t *testing.T) {
	ctx := context.Background()
	warnings := advisory.NewMemoryWarningStore()
	cache := advisory.NewMemoryFactCache(0, nil)
	require.NoError(t, cache.Put(ctx, advisory.NeedGuardianship, "12345678910", json.RawMessage(`{"harVergemål":false}`)))
	require.NoError(t, cache.Put(ctx, advisory.NeedUnit, "12345678910", json.RawMessage(`"0393"`)))

	orch := engine.NewInMemoryOrchestrator(nil)
	ev := advisory.NewEvaluator(advisory.Config{Cache: cache, Warnings: warnings, ForeignUnits: []string{"0393"}})
	require.NoError(t, orch.Register(api.PipelineDefinition{EventType: testType, Steps: []api.Step{ev.Step()}}))

	_, err := orch.HandleEvent(ctx, event("E1", "P1"))
	require.NoError(t, err)
	ws, err := warnings.List(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, []advisory.Code{advisory.CodeForeignUnit}, codes(ws))
}
