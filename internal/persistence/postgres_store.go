package persistence

import (
	"database/sql"
)

// PostgresRecordStore is a RecordStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver, for example
// "github.com/jackc/pgx/v5/stdlib":
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
type PostgresRecordStore struct {
	sqlRecordStore
}

// Ensure PostgresRecordStore implements RecordStore.
var _ RecordStore = (*PostgresRecordStore)(nil)

// NewPostgresRecordStore initializes the required schema in the given
// database and returns a new PostgresRecordStore.
func NewPostgresRecordStore(db *sql.DB) (*PostgresRecordStore, error) {
	s := &PostgresRecordStore{sqlRecordStore{db: db, rebind: dollarPlaceholders}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRecordStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event_records (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			episode TEXT NOT NULL DEFAULT '',
			payload BYTEA,
			received_at BIGINT NOT NULL,
			status TEXT NOT NULL,
			position INTEGER NOT NULL,
			state BYTEA,
			version BIGINT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at BIGINT NOT NULL DEFAULT 0
		);`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_event_records_status ON event_records(status)`)
	return err
}
