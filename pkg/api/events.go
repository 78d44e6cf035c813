package api

import "time"

// HistoryType identifies an entry in an event's processing history.
type HistoryType string

const (
	HistoryEventReceived   HistoryType = "event.received"
	HistoryEventSuspended  HistoryType = "event.suspended"
	HistoryEventCompleted  HistoryType = "event.completed"
	HistoryEventFailed     HistoryType = "event.failed"
	HistorySolutionApplied HistoryType = "solution.applied"
	HistorySolutionIgnored HistoryType = "solution.ignored"
	HistoryNeedPublished   HistoryType = "need.published"

	HistoryStepCompleted HistoryType = "step.completed"
)

// HistoryEntry is an append-only record for audit and debugging.
// Keep Detail small: need kinds, step names, error strings.
type HistoryEntry struct {
	EventID   string
	At        time.Time
	Type      HistoryType
	EventType EventType
	Step      int
	Detail    string
}
