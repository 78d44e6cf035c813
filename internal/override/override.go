// Package override implements caseworker overrides of computed facts
// (overstyring) as a closed set of variants.
//
// Code that must treat every variant implements Visitor. Adding a variant
// adds a Visitor method, so every dispatch site stops compiling until it
// handles the new variant.
package override

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

// Kind names an override variant on the wire and in stored records.
type Kind string

const (
	KindTimeline   Kind = "tidslinje"
	KindEmployment Kind = "arbeidsforhold"
)

// Override is a caseworker-submitted correction. Only this package can
// implement it.
type Override interface {
	// Subject returns the national id of the affected person.
	Subject() string

	// Apply binds the authenticated caseworker performing the override. It
	// fails with api.ErrIdentityMismatch if the override claims another
	// identity.
	Apply(caseworker string) error

	// Caseworker returns the identity bound by Apply.
	Caseworker() string

	accept(v Visitor) error
}

// Visitor has one method per Override variant.
type Visitor interface {
	VisitTimeline(o *TimelineOverride) error
	VisitEmployment(o *EmploymentOverride) error
}

// Dispatch calls the Visitor method matching o's variant.
func Dispatch(o Override, v Visitor) error {
	return o.accept(v)
}

// identity holds the claimed and the bound caseworker of an override.
type identity struct {
	Claimed string `json:"saksbehandlerIdent"`
	applied string
}

func (id *identity) Apply(caseworker string) error {
	if caseworker == "" || id.Claimed != caseworker {
		return fmt.Errorf("override claims %q, submitted by %q: %w", id.Claimed, caseworker, api.ErrIdentityMismatch)
	}
	id.applied = caseworker
	return nil
}

func (id *identity) Caseworker() string { return id.applied }

// OverriddenDay is one day of a timeline override.
type OverriddenDay struct {
	Date      string `json:"dato"`
	Type      string `json:"type"`
	FromType  string `json:"fraType,omitempty"`
	Grade     *int   `json:"grad,omitempty"`
	FromGrade *int   `json:"fraGrad,omitempty"`
}

// LegalBasis cites the provision an override relies on.
type LegalBasis struct {
	Paragraph string `json:"paragraf"`
	Section   string `json:"ledd,omitempty"`
	Letter    string `json:"bokstav,omitempty"`
	Law       string `json:"lovverk"`
	Version   string `json:"lovverksversjon"`
}

// TimelineOverride changes the day types of a sick-leave timeline.
type TimelineOverride struct {
	identity
	SubjectID     string          `json:"fødselsnummer"`
	OrgNumber     string          `json:"organisasjonsnummer"`
	Days          []OverriddenDay `json:"dager"`
	Justification string          `json:"begrunnelse"`
	LegalBasis    *LegalBasis     `json:"lovhjemmel,omitempty"`
}

func (o *TimelineOverride) Subject() string { return o.SubjectID }

func (o *TimelineOverride) accept(v Visitor) error { return v.VisitTimeline(o) }

// EmploymentChange deactivates or reactivates one employment relationship.
type EmploymentChange struct {
	OrgNumber     string `json:"orgnummer"`
	Deactivated   bool   `json:"deaktivert"`
	Justification string `json:"begrunnelse"`
	Explanation   string `json:"forklaring"`
}

// EmploymentOverride changes which employment relationships count from a
// cut-off date.
type EmploymentOverride struct {
	identity
	SubjectID     string             `json:"fødselsnummer"`
	CutOffDate    string             `json:"skjæringstidspunkt"`
	Relationships []EmploymentChange `json:"overstyrteArbeidsforhold"`
	LegalBasis    *LegalBasis        `json:"lovhjemmel,omitempty"`
}

func (o *EmploymentOverride) Subject() string { return o.SubjectID }

func (o *EmploymentOverride) accept(v Visitor) error { return v.VisitEmployment(o) }

// Submission is the payload of an overstyring event: the variant, the
// authenticated caseworker and the variant body.
type Submission struct {
	Kind      Kind            `json:"type"`
	Submitter string          `json:"innsender"`
	Body      json.RawMessage `json:"overstyring"`
}

// Decode reads the override carried by an overstyring event. Unknown
// variants and malformed bodies are permanent failures.
func Decode(ev api.Event) (Override, string, error) {
	var sub Submission
	if err := ev.DecodePayload(&sub); err != nil {
		return nil, "", fmt.Errorf("decode override of event %s: %v: %w", ev.ID, err, api.ErrPermanent)
	}

	var o Override
	switch sub.Kind {
	case KindTimeline:
		o = &TimelineOverride{}
	case KindEmployment:
		o = &EmploymentOverride{}
	default:
		return nil, "", fmt.Errorf("event %s: unknown override type %q: %w", ev.ID, sub.Kind, api.ErrPermanent)
	}
	if err := json.Unmarshal(sub.Body, o); err != nil {
		return nil, "", fmt.Errorf("decode %s override of event %s: %v: %w", sub.Kind, ev.ID, err, api.ErrPermanent)
	}
	if err := Dispatch(o, validator{}); err != nil {
		return nil, "", fmt.Errorf("event %s: %w: %w", ev.ID, err, api.ErrPermanent)
	}
	return o, sub.Submitter, nil
}

type validator struct{}

func (validator) VisitTimeline(o *TimelineOverride) error {
	if o.SubjectID == "" || len(o.Days) == 0 {
		return fmt.Errorf("timeline override needs a subject and at least one day")
	}
	return validateLegalBasis(o.LegalBasis)
}

func (validator) VisitEmployment(o *EmploymentOverride) error {
	if o.SubjectID == "" || o.CutOffDate == "" || len(o.Relationships) == 0 {
		return fmt.Errorf("employment override needs a subject, a cut-off date and at least one relationship")
	}
	return validateLegalBasis(o.LegalBasis)
}

func validateLegalBasis(lb *LegalBasis) error {
	if lb == nil {
		return nil
	}
	if lb.Paragraph == "" || lb.Law == "" {
		return fmt.Errorf("legal basis needs a paragraph and a law")
	}
	return nil
}

// Record is the persisted form of an applied override.
type Record struct {
	ID         string
	Kind       Kind
	Subject    string
	Caseworker string
	Body       json.RawMessage
	CreatedAt  time.Time
}

// recordBuilder turns an applied override into its Record.
type recordBuilder struct {
	id  string
	now time.Time
	out Record
}

func (b *recordBuilder) build(kind Kind, o Override, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s override: %w", kind, err)
	}
	b.out = Record{
		ID:         b.id,
		Kind:       kind,
		Subject:    o.Subject(),
		Caseworker: o.Caseworker(),
		Body:       raw,
		CreatedAt:  b.now,
	}
	return nil
}

func (b *recordBuilder) VisitTimeline(o *TimelineOverride) error {
	return b.build(KindTimeline, o, o)
}

func (b *recordBuilder) VisitEmployment(o *EmploymentOverride) error {
	return b.build(KindEmployment, o, o)
}

// ToRecord builds the record of an applied override.
func ToRecord(o Override, id string, now time.Time) (Record, error) {
	if o.Caseworker() == "" {
		return Record{}, fmt.Errorf("override %s has not been applied: %w", id, api.ErrIdentityMismatch)
	}
	b := &recordBuilder{id: id, now: now}
	if err := Dispatch(o, b); err != nil {
		return Record{}, err
	}
	return b.out, nil
}
