// Package casework holds the caseworker-facing state: cases, assignments,
// the two-step review and its audit trail. Every transition runs inside one
// store transaction; notifications are sent after commit and never undo it.
package casework

import "time"

// CaseStatus is the lifecycle state of a Case. A held case keeps its status
// and sets Case.OnHold.
type CaseStatus string

const (
	CaseAwaitingCaseworker    CaseStatus = "AVVENTER_SAKSBEHANDLER"
	CaseAwaitingDecisionMaker CaseStatus = "AVVENTER_BESLUTTER"
	CaseClosed                CaseStatus = "FERDIGSTILT"
)

// Case (oppgave) is one unit of caseworker-visible work for a subject and
// sickness episode.
type Case struct {
	ID        string
	Subject   string
	EpisodeID string
	Status    CaseStatus
	OnHold    bool

	// PayoutRef links the case to the payout its audit entries refer to.
	PayoutRef string

	// EventID is the event that created the case.
	EventID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment (tildeling) binds a case to the caseworker who owns it. A case
// has at most one.
type Assignment struct {
	CaseID     string
	Caseworker string
	CreatedAt  time.Time
}

// ReviewState is the state of a two-step review.
type ReviewState string

const (
	ReviewAwaitingCaseworker    ReviewState = "AVVENTER_SAKSBEHANDLER"
	ReviewAwaitingDecisionMaker ReviewState = "AVVENTER_BESLUTTER"
	ReviewApproved              ReviewState = "GODKJENT"
)

// Review (totrinnsvurdering) is the dual-control record of an episode. A
// returned review is back in ReviewAwaitingCaseworker with IsReturn set.
type Review struct {
	ID        string
	EpisodeID string
	State     ReviewState
	IsReturn  bool

	// Caseworker escalated the review; DecisionMaker returned or approved it.
	Caseworker    string
	DecisionMaker string

	PayoutRef  string
	Superseded bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditKind classifies an audit entry.
type AuditKind string

const (
	AuditEscalated  AuditKind = "TOTRINNSVURDERING_TIL_GODKJENNING"
	AuditReturned   AuditKind = "TOTRINNSVURDERING_RETUR"
	AuditAutoReturn AuditKind = "TOTRINNSVURDERING_AUTOMATISK_RETUR"
	AuditApproved   AuditKind = "TOTRINNSVURDERING_ATTESTERT"
	AuditPutOnHold  AuditKind = "LEGG_PA_VENT"
	AuditHoldLifted AuditKind = "FJERN_FRA_PA_VENT"
)

// AuditEntry (periodehistorikk) is an append-only history line keyed by
// payout reference. Caseworker is empty for system actions.
type AuditEntry struct {
	ID         string
	PayoutRef  string
	Kind       AuditKind
	Caseworker string
	Note       string
	At         time.Time
}
