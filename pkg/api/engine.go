package api

import "context"

// Orchestrator drives event pipelines to their next suspension or
// completion point.
type Orchestrator interface {
	// Register binds a pipeline to its event type.
	Register(def PipelineDefinition) error

	// HandleEvent starts the pipeline for a newly received event. A repeated
	// delivery of an in-flight event republishes its outstanding needs; a
	// repeated delivery of a terminal event is a no-op.
	HandleEvent(ctx context.Context, ev Event) (*EventRecord, error)

	// HandleSolution records a solution and resumes the owning event from its
	// first incomplete step. It returns ErrNoMatchingEvent for unknown or
	// terminal events.
	HandleSolution(ctx context.Context, s Solution) (*EventRecord, error)

	// Republish emits the outstanding needs of an in-flight event again.
	Republish(ctx context.Context, eventID string) error

	// Get returns the persisted record of an event.
	Get(ctx context.Context, eventID string) (*EventRecord, error)

	// History lists the processing history of an event, oldest first.
	History(ctx context.Context, eventID string) ([]HistoryEntry, error)
}

// NeedPublisher emits needs on the message bus.
type NeedPublisher interface {
	PublishNeeds(ctx context.Context, ev Event, needs []Need) error
}
