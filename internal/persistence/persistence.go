package persistence

// Persistence bundles the store interfaces so the orchestrator
// can depend on a single abstraction.
type Persistence struct {
	Records RecordStore
	History HistoryStore
}
