package override

import (
	"github.com/petrijr/saksflyt/internal/bus"
)

// notificationBuilder renders the overstyring_utfort document of an applied
// override.
type notificationBuilder struct {
	record Record
	msg    bus.Message
}

func (b *notificationBuilder) build(eventType string, extra map[string]any) error {
	fields := map[string]any{
		"overstyringId":      b.record.ID,
		"type":               string(b.record.Kind),
		"saksbehandlerIdent": b.record.Caseworker,
		bus.FieldEventID:     b.record.ID,
		bus.FieldSubject:     b.record.Subject,
	}
	for k, v := range extra {
		fields[k] = v
	}
	msg, err := bus.NewDocument(bus.TopicOverrideDone, eventType, b.record.Subject, fields)
	if err != nil {
		return err
	}
	b.msg = msg
	return nil
}

func (b *notificationBuilder) VisitTimeline(o *TimelineOverride) error {
	return b.build("overstyring_tidslinje", withLegalBasis(map[string]any{
		"organisasjonsnummer": o.OrgNumber,
		"dager":               o.Days,
		"begrunnelse":         o.Justification,
	}, o.LegalBasis))
}

func (b *notificationBuilder) VisitEmployment(o *EmploymentOverride) error {
	return b.build("overstyring_arbeidsforhold", withLegalBasis(map[string]any{
		"skjæringstidspunkt":       o.CutOffDate,
		"overstyrteArbeidsforhold": o.Relationships,
	}, o.LegalBasis))
}

func withLegalBasis(fields map[string]any, lb *LegalBasis) map[string]any {
	if lb != nil {
		fields["lovhjemmel"] = lb
	}
	return fields
}

// NotificationEvent builds the bus document announcing the override stored
// as rec.
func NotificationEvent(o Override, rec Record) (bus.Message, error) {
	b := &notificationBuilder{record: rec}
	if err := Dispatch(o, b); err != nil {
		return bus.Message{}, err
	}
	return b.msg, nil
}
