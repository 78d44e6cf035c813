package saksflyt

import (
	"github.com/petrijr/saksflyt/pkg/api"
)

// Re-export the contract so callers don't need to import pkg/api.

type (
	Event                = api.Event
	EventType            = api.EventType
	NeedKind             = api.NeedKind
	Need                 = api.Need
	Solution             = api.Solution
	Status               = api.Status
	EventRecord          = api.EventRecord
	HistoryEntry         = api.HistoryEntry
	Step                 = api.Step
	ActionFunc           = api.ActionFunc
	SolutionFunc         = api.SolutionFunc
	ExecutionContext     = api.ExecutionContext
	PipelineDefinition   = api.PipelineDefinition
	Orchestrator         = api.Orchestrator
	Observer             = api.Observer
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
)

const (
	StatusRunning   = api.StatusRunning
	StatusWaiting   = api.StatusWaiting
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

var (
	Action    = api.Action
	Sequence  = api.Sequence
	AwaitNeed = api.AwaitNeed

	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

var (
	ErrNoMatchingEvent     = api.ErrNoMatchingEvent
	ErrPersistenceConflict = api.ErrPersistenceConflict
	ErrPermanent           = api.ErrPermanent
	ErrUnknownEventType    = api.ErrUnknownEventType
)

// Registrar accepts pipeline definitions. Orchestrator and LocalRunner
// both implement it.
type Registrar interface {
	Register(def PipelineDefinition) error
}
