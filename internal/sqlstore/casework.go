package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/pkg/api"
)

// CaseworkStore is a casework.Store on database/sql. On PostgreSQL the case
// row is locked for the rest of the transaction when read.
type CaseworkStore struct {
	db *sql.DB
	d  Dialect
}

var _ casework.Store = (*CaseworkStore)(nil)

func NewCaseworkStore(db *sql.DB, d Dialect) *CaseworkStore {
	return &CaseworkStore{db: db, d: d}
}

func (s *CaseworkStore) WithinTx(ctx context.Context, fn func(tx casework.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&caseworkTx{tx: tx, d: s.d}); err != nil {
		return err
	}
	return tx.Commit()
}

type caseworkTx struct {
	tx *sql.Tx
	d  Dialect
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

const caseColumns = `id, subject, episode_id, status, on_hold, payout_ref, event_id, created_at, updated_at`

func scanCase(row scanner) (*casework.Case, error) {
	var (
		c                casework.Case
		status           string
		created, updated int64
	)
	if err := row.Scan(&c.ID, &c.Subject, &c.EpisodeID, &status, &c.OnHold, &c.PayoutRef, &c.EventID, &created, &updated); err != nil {
		return nil, err
	}
	c.Status = casework.CaseStatus(status)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)
	return &c, nil
}

func (t *caseworkTx) queryCase(ctx context.Context, what, where string, args ...any) (*casework.Case, error) {
	row := t.tx.QueryRowContext(ctx, t.d.rebind(`SELECT `+caseColumns+` FROM cases WHERE `+where), args...)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, api.ErrCaseNotFound)
	}
	return c, err
}

func (t *caseworkTx) GetCase(ctx context.Context, caseID string) (*casework.Case, error) {
	return t.queryCase(ctx, "case "+caseID, `id = ?`+t.d.forUpdate, caseID)
}

func (t *caseworkTx) CaseByEvent(ctx context.Context, eventID string) (*casework.Case, error) {
	return t.queryCase(ctx, "case for event "+eventID, `event_id = ?`, eventID)
}

func (t *caseworkTx) LatestOpenCase(ctx context.Context, episodeID string) (*casework.Case, error) {
	return t.queryCase(ctx, "open case for episode "+episodeID,
		`episode_id = ? AND status <> ? ORDER BY created_at DESC, id DESC LIMIT 1`+t.d.forUpdate,
		episodeID, string(casework.CaseClosed))
}

func (t *caseworkTx) PutCase(ctx context.Context, c *casework.Case) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			on_hold = excluded.on_hold,
			payout_ref = excluded.payout_ref,
			updated_at = excluded.updated_at`),
		c.ID, c.Subject, c.EpisodeID, string(c.Status), c.OnHold, c.PayoutRef, c.EventID,
		nanos(c.CreatedAt), nanos(c.UpdatedAt),
	)
	return err
}

func (t *caseworkTx) GetAssignment(ctx context.Context, caseID string) (*casework.Assignment, error) {
	var (
		a       = casework.Assignment{CaseID: caseID}
		created int64
	)
	err := t.tx.QueryRowContext(ctx, t.d.rebind(`
		SELECT caseworker, created_at FROM assignments WHERE case_id = ?`), caseID,
	).Scan(&a.Caseworker, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

func (t *caseworkTx) InsertAssignment(ctx context.Context, a casework.Assignment) error {
	res, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO assignments (case_id, caseworker, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (case_id) DO NOTHING`),
		a.CaseID, a.Caseworker, nanos(a.CreatedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", a.CaseID, api.ErrAlreadyAssigned)
	}
	return nil
}

func (t *caseworkTx) DeleteAssignment(ctx context.Context, caseID string) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`DELETE FROM assignments WHERE case_id = ?`), caseID)
	return err
}

const reviewColumns = `id, episode_id, state, is_return, caseworker, decision_maker, payout_ref, superseded, created_at, updated_at`

func (t *caseworkTx) ActiveReview(ctx context.Context, episodeID string) (*casework.Review, error) {
	var (
		r                casework.Review
		state            string
		created, updated int64
	)
	err := t.tx.QueryRowContext(ctx, t.d.rebind(`
		SELECT `+reviewColumns+` FROM reviews WHERE episode_id = ? AND superseded = ?`+t.d.forUpdate),
		episodeID, false,
	).Scan(&r.ID, &r.EpisodeID, &state, &r.IsReturn, &r.Caseworker, &r.DecisionMaker, &r.PayoutRef, &r.Superseded, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review for episode %s: %w", episodeID, api.ErrReviewNotFound)
	}
	if err != nil {
		return nil, err
	}
	r.State = casework.ReviewState(state)
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	return &r, nil
}

func (t *caseworkTx) PutReview(ctx context.Context, r *casework.Review) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			is_return = excluded.is_return,
			caseworker = excluded.caseworker,
			decision_maker = excluded.decision_maker,
			superseded = excluded.superseded,
			updated_at = excluded.updated_at`),
		r.ID, r.EpisodeID, string(r.State), r.IsReturn, r.Caseworker, r.DecisionMaker, r.PayoutRef, r.Superseded,
		nanos(r.CreatedAt), nanos(r.UpdatedAt),
	)
	return err
}

func (t *caseworkTx) AppendAudit(ctx context.Context, e casework.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx, t.d.rebind(`
		INSERT INTO audit_entries (id, payout_ref, kind, caseworker, note, at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.ID, e.PayoutRef, string(e.Kind), e.Caseworker, e.Note, nanos(e.At),
	)
	return err
}

func (t *caseworkTx) ListAudit(ctx context.Context, payoutRef string) ([]casework.AuditEntry, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(`
		SELECT id, payout_ref, kind, caseworker, note, at
		FROM audit_entries
		WHERE payout_ref = ?
		ORDER BY seq`), payoutRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []casework.AuditEntry
	for rows.Next() {
		var (
			e    casework.AuditEntry
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.PayoutRef, &kind, &e.Caseworker, &e.Note, &at); err != nil {
			return nil, err
		}
		e.Kind = casework.AuditKind(kind)
		e.At = fromNanos(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
