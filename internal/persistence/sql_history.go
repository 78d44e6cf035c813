package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

// SQLHistoryStore stores processing history in SQLite or PostgreSQL.
type SQLHistoryStore struct {
	db     *sql.DB
	rebind func(string) string
}

// Ensure SQLHistoryStore implements the interfaces.
var _ HistoryStore = (*SQLHistoryStore)(nil)

// NewSQLiteHistoryStore creates the history table in a SQLite database.
func NewSQLiteHistoryStore(db *sql.DB) (*SQLHistoryStore, error) {
	s := &SQLHistoryStore{db: db, rebind: questionMarks}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_event_history_event_id ON event_history(event_id, id);
	`)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresHistoryStore creates the history table in a PostgreSQL database.
func NewPostgresHistoryStore(db *sql.DB) (*SQLHistoryStore, error) {
	s := &SQLHistoryStore{db: db, rebind: dollarPlaceholders}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_history (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			at BIGINT NOT NULL,
			type TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_event_history_event_id ON event_history(event_id, id)`); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLHistoryStore) AppendHistory(ctx context.Context, entry api.HistoryEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO event_history (event_id, at, type, event_type, step, detail)
		VALUES (?, ?, ?, ?, ?, ?)`),
		entry.EventID,
		at.UnixNano(),
		string(entry.Type),
		string(entry.EventType),
		entry.Step,
		entry.Detail,
	)
	return err
}

func (s *SQLHistoryStore) ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT event_id, at, type, event_type, step, detail
		FROM event_history
		WHERE event_id = ?
		ORDER BY id ASC`), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.HistoryEntry
	for rows.Next() {
		var (
			id     string
			atN    int64
			typ    string
			etype  string
			step   int
			detail string
		)
		if err := rows.Scan(&id, &atN, &typ, &etype, &step, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.HistoryEntry{
			EventID:   id,
			At:        time.Unix(0, atN).UTC(),
			Type:      api.HistoryType(typ),
			EventType: api.EventType(etype),
			Step:      step,
			Detail:    detail,
		})
	}
	return out, rows.Err()
}
