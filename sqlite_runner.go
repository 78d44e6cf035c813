package saksflyt

import (
	"context"
	"database/sql"

	"github.com/petrijr/saksflyt/internal/advisory"
	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/internal/persistence"
	"github.com/petrijr/saksflyt/internal/pipelines"
	"github.com/petrijr/saksflyt/internal/sqlstore"
)

// NewSQLiteRunner keeps event records, history, bus messages and casework in
// db, so events survive a restart. Advisory facts are cached in memory.
//
//	db, _ := sql.Open("sqlite", "file:saksflyt.db?_pragma=busy_timeout(5000)")
//	db.SetMaxOpenConns(1)
//	runner, err := saksflyt.NewSQLiteRunner(ctx, db)
func NewSQLiteRunner(ctx context.Context, db *sql.DB, opts ...RunnerOption) (*LocalRunner, error) {
	records, err := persistence.NewSQLiteRecordStore(db)
	if err != nil {
		return nil, err
	}
	history, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return nil, err
	}
	b, err := bus.NewSQLiteBus(db)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db, sqlstore.SQLite); err != nil {
		return nil, err
	}

	return newRunner(
		persistence.Persistence{Records: records, History: history},
		b,
		pipelines.Stores{
			Cases:     sqlstore.NewCaseworkStore(db, sqlstore.SQLite),
			Overrides: sqlstore.NewOverrideStore(db, sqlstore.SQLite),
			Warnings:  sqlstore.NewWarningStore(db, sqlstore.SQLite),
			Facts:     advisory.NewMemoryFactCache(advisory.DefaultCacheTTL, clock.System{}),
		},
		newRunnerConfig(opts),
	)
}
