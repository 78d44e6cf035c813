// Package sqlstore implements the casework, override and warning stores on
// database/sql for SQLite (modernc.org/sqlite) and PostgreSQL (pgx stdlib).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name string

	rebind    func(string) string
	forUpdate string
	schema    []string
}

var SQLite = Dialect{
	Name:   "sqlite",
	rebind: func(q string) string { return q },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			status TEXT NOT NULL,
			on_hold BOOLEAN NOT NULL DEFAULT 0,
			payout_ref TEXT NOT NULL DEFAULT '',
			event_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_event ON cases(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_episode ON cases(episode_id)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			case_id TEXT PRIMARY KEY,
			caseworker TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			episode_id TEXT NOT NULL,
			state TEXT NOT NULL,
			is_return BOOLEAN NOT NULL DEFAULT 0,
			caseworker TEXT NOT NULL DEFAULT '',
			decision_maker TEXT NOT NULL DEFAULT '',
			payout_ref TEXT NOT NULL DEFAULT '',
			superseded BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_active ON reviews(episode_id) WHERE NOT superseded`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			payout_ref TEXT NOT NULL,
			kind TEXT NOT NULL,
			caseworker TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_payout ON audit_entries(payout_ref)`,
		`CREATE TABLE IF NOT EXISTS override_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			caseworker TEXT NOT NULL,
			body BLOB,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_override_subject ON override_records(subject)`,
		`CREATE TABLE IF NOT EXISTS warnings (
			episode_id TEXT NOT NULL,
			code TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (episode_id, code)
		)`,
	},
}

var Postgres = Dialect{
	Name:      "postgres",
	rebind:    dollarPlaceholders,
	forUpdate: " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			episode_id TEXT NOT NULL,
			status TEXT NOT NULL,
			on_hold BOOLEAN NOT NULL DEFAULT FALSE,
			payout_ref TEXT NOT NULL DEFAULT '',
			event_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_event ON cases(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_episode ON cases(episode_id)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			case_id TEXT PRIMARY KEY,
			caseworker TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id TEXT PRIMARY KEY,
			episode_id TEXT NOT NULL,
			state TEXT NOT NULL,
			is_return BOOLEAN NOT NULL DEFAULT FALSE,
			caseworker TEXT NOT NULL DEFAULT '',
			decision_maker TEXT NOT NULL DEFAULT '',
			payout_ref TEXT NOT NULL DEFAULT '',
			superseded BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_active ON reviews(episode_id) WHERE NOT superseded`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			payout_ref TEXT NOT NULL,
			kind TEXT NOT NULL,
			caseworker TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_payout ON audit_entries(payout_ref)`,
		`CREATE TABLE IF NOT EXISTS override_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject TEXT NOT NULL,
			caseworker TEXT NOT NULL,
			body BYTEA,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_override_subject ON override_records(subject)`,
		`CREATE TABLE IF NOT EXISTS warnings (
			episode_id TEXT NOT NULL,
			code TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			PRIMARY KEY (episode_id, code)
		)`,
	},
}

// DialectByName returns the dialect for a config driver name.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "sqlite":
		return SQLite, nil
	case "postgres":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("sqlstore: unsupported driver %q", name)
}

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

// Migrate creates the tables used by this package.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate %s: %w", d.Name, err)
		}
	}
	return nil
}
