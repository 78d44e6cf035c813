package casework

import "context"

// Store runs units of work against the case state.
type Store interface {
	// WithinTx runs fn in one transaction. Everything fn wrote is committed
	// when it returns nil and discarded otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the read-then-write view of the store inside WithinTx. Lookups of
// missing entities return api.ErrCaseNotFound or api.ErrReviewNotFound,
// except GetAssignment, which returns nil for an unassigned case.
type Tx interface {
	GetCase(ctx context.Context, caseID string) (*Case, error)
	CaseByEvent(ctx context.Context, eventID string) (*Case, error)

	// LatestOpenCase returns the most recently created case of an episode
	// that is not closed.
	LatestOpenCase(ctx context.Context, episodeID string) (*Case, error)

	// PutCase inserts or replaces a case.
	PutCase(ctx context.Context, c *Case) error

	GetAssignment(ctx context.Context, caseID string) (*Assignment, error)

	// InsertAssignment fails with api.ErrAlreadyAssigned if the case has one.
	InsertAssignment(ctx context.Context, a Assignment) error

	// DeleteAssignment is a no-op for an unassigned case.
	DeleteAssignment(ctx context.Context, caseID string) error

	// ActiveReview returns the episode's review that is not superseded.
	ActiveReview(ctx context.Context, episodeID string) (*Review, error)

	// PutReview inserts or replaces a review by id.
	PutReview(ctx context.Context, r *Review) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, payoutRef string) ([]AuditEntry, error)
}
