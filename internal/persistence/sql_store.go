package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

// sqlRecordStore holds the queries shared by the SQLite and PostgreSQL
// record stores. Queries are written with '?' placeholders and rewritten by
// rebind for drivers that use numbered placeholders.
type sqlRecordStore struct {
	db     *sql.DB
	rebind func(string) string
}

func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites '?' placeholders to $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `event_id, event_type, subject, episode, payload, received_at, status, position, state, version, error, created_at, updated_at`

func (s *sqlRecordStore) Create(ctx context.Context, rec *api.EventRecord) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO event_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`),
		rec.Event.ID,
		string(rec.Event.Type),
		rec.Event.Subject,
		rec.Event.Episode,
		[]byte(rec.Event.Payload),
		rec.Event.ReceivedAt.UnixNano(),
		string(rec.Status),
		rec.Position,
		rec.State,
		rec.Version,
		rec.Err,
		rec.CreatedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordExists
	}
	return nil
}

func (s *sqlRecordStore) Get(ctx context.Context, eventID string) (*api.EventRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+recordColumns+`
		FROM event_records
		WHERE event_id = ?`),
		eventID,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *sqlRecordStore) Update(ctx context.Context, rec *api.EventRecord) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE event_records
		SET status = ?, position = ?, state = ?, error = ?, updated_at = ?, version = version + 1
		WHERE event_id = ? AND version = ?`),
		string(rec.Status),
		rec.Position,
		rec.State,
		rec.Err,
		rec.UpdatedAt.UnixNano(),
		rec.Event.ID,
		rec.Version,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.Get(ctx, rec.Event.ID); err != nil {
			return err
		}
		return api.ErrPersistenceConflict
	}
	rec.Version++
	return nil
}

func (s *sqlRecordStore) List(ctx context.Context, filter RecordFilter) ([]*api.EventRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM event_records`
	var args []any
	var clauses []string

	if filter.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY event_id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*api.EventRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *sqlRecordStore) TryAcquireLease(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE event_records
		SET lease_owner = ?, lease_expires_at = ?
		WHERE event_id = ?
		AND (
			lease_owner = ''
			OR lease_expires_at <= ?
			OR lease_owner = ?
		)`),
		owner, now.Add(ttl).UnixNano(), eventID, now.UnixNano(), owner,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.Get(ctx, eventID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *sqlRecordStore) ReleaseLease(ctx context.Context, eventID, owner string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE event_records
		SET lease_owner = '', lease_expires_at = 0
		WHERE event_id = ? AND lease_owner = ?`),
		eventID, owner,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*api.EventRecord, error) {
	var (
		rec        api.EventRecord
		eventType  string
		status     string
		payload    []byte
		state      []byte
		receivedAt int64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&rec.Event.ID,
		&eventType,
		&rec.Event.Subject,
		&rec.Event.Episode,
		&payload,
		&receivedAt,
		&status,
		&rec.Position,
		&state,
		&rec.Version,
		&rec.Err,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	rec.Event.Type = api.EventType(eventType)
	rec.Status = api.Status(status)
	if len(payload) > 0 {
		rec.Event.Payload = payload
	}
	if len(state) > 0 {
		rec.State = state
	}
	rec.Event.ReceivedAt = time.Unix(0, receivedAt).UTC()
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &rec, nil
}
