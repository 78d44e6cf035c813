package api

import "errors"

var (
	// ErrAlreadyAssigned is returned when assigning a case that already has
	// an active assignment.
	ErrAlreadyAssigned = errors.New("case is already assigned")

	// ErrNotAssigned is returned when an operation requires an active
	// assignment and there is none.
	ErrNotAssigned = errors.New("case is not assigned")

	// ErrIdentityMismatch is returned when the caseworker performing an action
	// differs from the identity the action claims.
	ErrIdentityMismatch = errors.New("caseworker identity mismatch")

	// ErrCaseNotAssigned is returned when escalating a review whose case has
	// no active assignment.
	ErrCaseNotAssigned = errors.New("case must be assigned before escalation")

	// ErrSameCaseworker is returned when the decision-maker is the caseworker
	// who escalated the review.
	ErrSameCaseworker = errors.New("decision-maker cannot be the escalating caseworker")

	// ErrNoMatchingEvent is returned when a solution arrives for an unknown or
	// terminal event.
	ErrNoMatchingEvent = errors.New("no in-flight event matches solution")

	// ErrPersistenceConflict is returned when another writer updated or holds
	// the event. Callers must retry.
	ErrPersistenceConflict = errors.New("concurrent update of event")

	// ErrPermanent marks a step failure that must terminate the pipeline
	// instead of being redelivered.
	ErrPermanent = errors.New("permanent failure")

	// ErrNeedsNotPublished is returned when progress was persisted but the
	// new needs could not be emitted. Republish the event to recover.
	ErrNeedsNotPublished = errors.New("needs persisted but not published")

	ErrCaseNotFound      = errors.New("case not found")
	ErrReviewNotFound    = errors.New("two-step review not found")
	ErrInvalidTransition = errors.New("invalid two-step review transition")
	ErrUnknownEventType  = errors.New("no pipeline registered for event type")
)

// IsCaseworkerError reports whether err is a rejected caseworker operation
// that the boundary turns into a rejected-operation response.
func IsCaseworkerError(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned) ||
		errors.Is(err, ErrNotAssigned) ||
		errors.Is(err, ErrIdentityMismatch) ||
		errors.Is(err, ErrCaseNotAssigned) ||
		errors.Is(err, ErrSameCaseworker) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsPermanent reports whether err terminates a pipeline.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || IsCaseworkerError(err)
}
