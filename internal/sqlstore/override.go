package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petrijr/saksflyt/internal/override"
)

// OverrideStore is an override.Store on database/sql.
type OverrideStore struct {
	db *sql.DB
	d  Dialect
}

var _ override.Store = (*OverrideStore)(nil)

func NewOverrideStore(db *sql.DB, d Dialect) *OverrideStore {
	return &OverrideStore{db: db, d: d}
}

func (s *OverrideStore) Save(ctx context.Context, rec override.Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO override_records (id, kind, subject, caseworker, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		rec.ID, string(rec.Kind), rec.Subject, rec.Caseworker, []byte(rec.Body), nanos(rec.CreatedAt),
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

type scanner interface{ Scan(...any) error }

func scanOverride(row scanner) (override.Record, error) {
	var (
		rec     override.Record
		kind    string
		body    []byte
		created int64
	)
	if err := row.Scan(&rec.ID, &kind, &rec.Subject, &rec.Caseworker, &body, &created); err != nil {
		return override.Record{}, err
	}
	rec.Kind = override.Kind(kind)
	rec.Body = body
	rec.CreatedAt = fromNanos(created)
	return rec, nil
}

func (s *OverrideStore) Get(ctx context.Context, id string) (override.Record, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, kind, subject, caseworker, body, created_at
		FROM override_records WHERE id = ?`), id)
	rec, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return override.Record{}, override.ErrRecordNotFound
	}
	return rec, err
}

func (s *OverrideStore) ListBySubject(ctx context.Context, subject string) ([]override.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT id, kind, subject, caseworker, body, created_at
		FROM override_records
		WHERE subject = ?
		ORDER BY created_at, id`), subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []override.Record
	for rows.Next() {
		rec, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
