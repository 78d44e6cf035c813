package persistence

import (
	"database/sql"
)

// SQLiteRecordStore is a RecordStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteRecordStore struct {
	sqlRecordStore
}

// Ensure SQLiteRecordStore implements RecordStore.
var _ RecordStore = (*SQLiteRecordStore)(nil)

// NewSQLiteRecordStore initializes the required schema in the given
// database and returns a new SQLiteRecordStore.
func NewSQLiteRecordStore(db *sql.DB) (*SQLiteRecordStore, error) {
	s := &SQLiteRecordStore{sqlRecordStore{db: db, rebind: questionMarks}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRecordStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_records (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			episode TEXT NOT NULL DEFAULT '',
			payload BLOB,
			received_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			position INTEGER NOT NULL,
			state BLOB,
			version INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_event_records_status ON event_records(status);`,
	)
	return err
}
