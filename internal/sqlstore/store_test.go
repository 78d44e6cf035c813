package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/casework/caseworktest"
	"github.com/petrijr/saksflyt/internal/override"
	"github.com/petrijr/saksflyt/internal/testutil"
)

type dbFactory func(t *testing.T) (*sql.DB, Dialect)

func openSQLite(t *testing.T) (*sql.DB, Dialect) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db, SQLite))
	return db, SQLite
}

func openPostgres(t *testing.T) (*sql.DB, Dialect) {
	t.Helper()
	db, err := sql.Open("pgx", testutil.GetPostgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, table := range []string{"cases", "assignments", "reviews", "audit_entries", "override_records", "warnings"} {
		_, err := db.Exec(`DROP TABLE IF EXISTS ` + table)
		require.NoError(t, err)
	}
	require.NoError(t, Migrate(context.Background(), db, Postgres))
	return db, Postgres
}

func factories() map[string]dbFactory {
	return map[string]dbFactory{
		"sqlite":   openSQLite,
		"postgres": openPostgres,
	}
}

func TestCaseworkStore_Contract(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			caseworktest.RunStoreContract(t, func(t *testing.T) casework.Store {
				db, d := open(t)
				return NewCaseworkStore(db, d)
			})
		})
	}
}

func TestOverrideStore_SaveIsIdempotent(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewOverrideStore(open(t))
			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

			rec := override.Record{
				ID:         "O1",
				Kind:       override.KindEmployment,
				Subject:    "12345678910",
				Caseworker: "C1",
				Body:       json.RawMessage(`{"skjæringstidspunkt":"2024-01-01"}`),
				CreatedAt:  at,
			}
			created, err := store.Save(ctx, rec)
			require.NoError(t, err)
			require.True(t, created)

			rec.Caseworker = "C2"
			created, err = store.Save(ctx, rec)
			require.NoError(t, err)
			require.False(t, created)

			got, err := store.Get(ctx, "O1")
			require.NoError(t, err)
			require.Equal(t, "C1", got.Caseworker)
			require.Equal(t, override.KindEmployment, got.Kind)
			require.JSONEq(t, `{"skjæringstidspunkt":"2024-01-01"}`, string(got.Body))
			require.True(t, at.Equal(got.CreatedAt))

			_, err = store.Get(ctx, "missing")
			require.ErrorIs(t, err, override.ErrRecordNotFound)

			_, err = store.Save(ctx, override.Record{ID: "O0", Kind: override.KindTimeline, Subject: "12345678910", Caseworker: "C1", CreatedAt: at.Add(-time.Hour)})
			require.NoError(t, err)
			list, err := store.ListBySubject(ctx, "12345678910")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "O0", list[0].ID)
			require.Equal(t, "O1", list[1].ID)
		})
	}
}

func TestWarningStore_AddIsIdempotent(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewWarningStore(open(t))

			for _, w := range []advisory.Warning{
				{EpisodeID: "P1", Code: advisory.CodeForeignUnit, Source: "E1"},
				{EpisodeID: "P1", Code: advisory.CodeGuardianship, Source: "E1"},
				{EpisodeID: "P1", Code: advisory.CodeGuardianship, Source: "E2"},
				{EpisodeID: "P2", Code: advisory.CodeGuardianship, Source: "E3"},
			} {
				_, err := store.Add(ctx, w)
				require.NoError(t, err)
			}

			ws, err := store.List(ctx, "P1")
			require.NoError(t, err)
			require.Len(t, ws, 2)
			require.Equal(t, advisory.CodeGuardianship, ws[0].Code)
			require.Equal(t, "E1", ws[0].Source)
			require.Equal(t, advisory.CodeForeignUnit, ws[1].Code)
		})
	}
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("postgres")
	require.NoError(t, err)
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", d.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	_, err = DialectByName("oracle")
	require.Error(t, err)
}
