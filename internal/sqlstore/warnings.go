package sqlstore

import (
	"context"
	"database/sql"

	"github.com/petrijr/saksflyt/internal/advisory"
)

// WarningStore is an advisory.WarningStore on database/sql. The primary key
// (episode_id, code) makes Add idempotent.
type WarningStore struct {
	db *sql.DB
	d  Dialect
}

var _ advisory.WarningStore = (*WarningStore)(nil)

func NewWarningStore(db *sql.DB, d Dialect) *WarningStore {
	return &WarningStore{db: db, d: d}
}

func (s *WarningStore) Add(ctx context.Context, w advisory.Warning) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO warnings (episode_id, code, source, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (episode_id, code) DO NOTHING`),
		w.EpisodeID, string(w.Code), w.Source, nanos(w.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *WarningStore) List(ctx context.Context, episodeID string) ([]advisory.Warning, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT episode_id, code, source, created_at
		FROM warnings
		WHERE episode_id = ?
		ORDER BY code`), episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []advisory.Warning
	for rows.Next() {
		var (
			w       advisory.Warning
			code    string
			created int64
		)
		if err := rows.Scan(&w.EpisodeID, &code, &w.Source, &created); err != nil {
			return nil, err
		}
		w.Code = advisory.Code(code)
		w.CreatedAt = fromNanos(created)
		out = append(out, w)
	}
	return out, rows.Err()
}
