package override_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/engine"
	"github.com/petrijr/saksflyt/internal/override"
	"github.com/petrijr/saksflyt/pkg/api"
)

func employmentEvent(id, submitter, claimed string) api.Event {
	return employmentEventWith(id, submitter, claimed, nil)
}

func employmentEventWith(id, submitter, claimed string, legalBasis map[string]any) api.Event {
	fields := map[string]any{
		"saksbehandlerIdent": claimed,
		"fødselsnummer":      "12345678910",
		"skjæringstidspunkt": "2024-01-01",
		"overstyrteArbeidsforhold": []map[string]any{
			{"orgnummer": "987654321", "deaktivert": true, "begrunnelse": "ikke aktivt", "forklaring": "sluttet"},
		},
	}
	if legalBasis != nil {
		fields["lovhjemmel"] = legalBasis
	}
	body, _ := json.Marshal(fields)
	payload, _ := json.Marshal(override.Submission{Kind: override.KindEmployment, Submitter: submitter, Body: body})
	return api.Event{ID: id, Type: override.EventType, Subject: "12345678910", Payload: payload}
}

func timelineEvent(id, submitter string) api.Event {
	grade := 100
	body, _ := json.Marshal(map[string]any{
		"saksbehandlerIdent":  submitter,
		"fødselsnummer":       "12345678910",
		"organisasjonsnummer": "987654321",
		"begrunnelse":         "feil dagtype",
		"dager":               []override.OverriddenDay{{Date: "2024-01-02", Type: "Sykedag", FromType: "Feriedag", Grade: &grade}},
	})
	payload, _ := json.Marshal(override.Submission{Kind: override.KindTimeline, Submitter: submitter, Body: body})
	return api.Event{ID: id, Type: override.EventType, Subject: "12345678910", Payload: payload}
}

type fixture struct {
	orch  *engine.Orchestrator
	store *override.MemoryStore
	bus   *bus.InMemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orch:  engine.NewInMemoryOrchestrator(nil),
		store: override.NewMemoryStore(),
		bus:   bus.NewInMemoryBus(),
	}
	require.NoError(t, f.orch.Register(override.Pipeline(override.Config{
		Store: f.store,
		Bus:   f.bus,
		Clock: clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	})))
	return f
}

func TestEmploymentOverride_IdentityMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.orch.HandleEvent(ctx, employmentEvent("O1", "C1", "C2"))
	require.ErrorIs(t, err, api.ErrIdentityMismatch)
	require.NotNil(t, rec)
	require.Equal(t, api.StatusFailed, rec.Status)

	_, err = f.store.Get(ctx, "O1")
	require.ErrorIs(t, err, override.ErrRecordNotFound)
	records, err := f.store.ListBySubject(ctx, "12345678910")
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, 0, f.bus.Len(bus.TopicOverrideDone))
}

func TestEmploymentOverride_PersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.orch.HandleEvent(ctx, employmentEvent("O1", "C1", "C1"))
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)

	stored, err := f.store.Get(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, override.KindEmployment, stored.Kind)
	require.Equal(t, "C1", stored.Caseworker)
	require.Equal(t, "12345678910", stored.Subject)
	require.Equal(t, "987654321", gjson.GetBytes(stored.Body, "overstyrteArbeidsforhold.0.orgnummer").String())

	msg, err := f.bus.Receive(ctx, bus.TopicOverrideDone)
	require.NoError(t, err)
	require.Equal(t, "overstyring_arbeidsforhold", bus.EventType(msg.Body))
	require.Equal(t, "O1", gjson.GetBytes(msg.Body, "overstyringId").String())
	require.Equal(t, "C1", gjson.GetBytes(msg.Body, "saksbehandlerIdent").String())
	require.True(t, gjson.GetBytes(msg.Body, "overstyrteArbeidsforhold.0.deaktivert").Bool())
}

func TestEmploymentOverride_KeepsLegalBasis(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ev := employmentEventWith("O1", "C1", "C1", map[string]any{
		"paragraf": "8-15", "ledd": "1", "lovverk": "folketrygdloven", "lovverksversjon": "2019-01-01",
	})
	o, _, err := override.Decode(ev)
	require.NoError(t, err)
	emp, ok := o.(*override.EmploymentOverride)
	require.True(t, ok)
	require.Equal(t, &override.LegalBasis{Paragraph: "8-15", Section: "1", Law: "folketrygdloven", Version: "2019-01-01"}, emp.LegalBasis)

	rec, err := f.orch.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, rec.Status)

	stored, err := f.store.Get(ctx, "O1")
	require.NoError(t, err)
	require.Equal(t, "8-15", gjson.GetBytes(stored.Body, "lovhjemmel.paragraf").String())
	require.Equal(t, "folketrygdloven", gjson.GetBytes(stored.Body, "lovhjemmel.lovverk").String())

	msg, err := f.bus.Receive(ctx, bus.TopicOverrideDone)
	require.NoError(t, err)
	require.Equal(t, "8-15", gjson.GetBytes(msg.Body, "lovhjemmel.paragraf").String())
	require.Equal(t, "2019-01-01", gjson.GetBytes(msg.Body, "lovhjemmel.lovverksversjon").String())
}

func TestEmploymentOverride_WithoutLegalBasisOmitsField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.HandleEvent(ctx, employmentEvent("O1", "C1", "C1"))
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, "O1")
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(stored.Body, "lovhjemmel").Exists())
	msg, err := f.bus.Receive(ctx, bus.TopicOverrideDone)
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(msg.Body, "lovhjemmel").Exists())
}

func TestTimelineOverride_RedeliveryStoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.orch.HandleEvent(ctx, timelineEvent("O2", "C1"))
	require.NoError(t, err)
	_, err = f.orch.HandleEvent(ctx, timelineEvent("O2", "C1"))
	require.NoError(t, err)

	records, err := f.store.ListBySubject(ctx, "12345678910")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, override.KindTimeline, records[0].Kind)
	require.Equal(t, 1, f.bus.Len(bus.TopicOverrideDone))
}

func TestDecode_RejectsUnknownAndInvalid(t *testing.T) {
	tests := map[string]api.Event{
		"unknown type":            {ID: "X1", Type: override.EventType, Payload: json.RawMessage(`{"type":"inntekt","innsender":"C1","overstyring":{}}`)},
		"not json":                {ID: "X2", Type: override.EventType, Payload: json.RawMessage(`[1,2]`)},
		"no days":                 {ID: "X3", Type: override.EventType, Payload: json.RawMessage(`{"type":"tidslinje","innsender":"C1","overstyring":{"fødselsnummer":"1","dager":[]}}`)},
		"legal basis without law": employmentEventWith("X4", "C1", "C1", map[string]any{"paragraf": "8-15"}),
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := override.Decode(ev)
			require.ErrorIs(t, err, api.ErrPermanent)
		})
	}
}

func TestToRecord_RequiresApply(t *testing.T) {
	o, submitter, err := override.Decode(timelineEvent("O3", "C1"))
	require.NoError(t, err)
	require.Equal(t, "C1", submitter)

	_, err = override.ToRecord(o, "O3", time.Now())
	require.ErrorIs(t, err, api.ErrIdentityMismatch)

	require.NoError(t, o.Apply("C1"))
	rec, err := override.ToRecord(o, "O3", time.Now())
	require.NoError(t, err)
	require.Equal(t, "C1", rec.Caseworker)
}

// countingVisitor checks that Dispatch reaches the variant's method.
type countingVisitor struct {
	timeline, employment int
}

func (v *countingVisitor) VisitTimeline(*override.TimelineOverride) error {
	v.timeline++
	return nil
}

func (v *countingVisitor) VisitEmployment(*override.EmploymentOverride) error {
	v.employment++
	return errors.New("stop")
}

func TestDispatch_CallsVariantMethod(t *testing.T) {
	v := &countingVisitor{}
	require.NoError(t, override.Dispatch(&override.TimelineOverride{}, v))
	require.Error(t, override.Dispatch(&override.EmploymentOverride{}, v))
	require.Equal(t, 1, v.timeline)
	require.Equal(t, 1, v.employment)
}
