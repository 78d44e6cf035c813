package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/internal/casework"
	"github.com/petrijr/saksflyt/internal/casework/caseworktest"
)

func TestReturn_RollsBackWhenAuditInsertFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixNano()
	boom := errors.New("audit insert failed")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM cases WHERE id = \?`).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "episode_id", "status", "on_hold", "payout_ref", "event_id", "created_at", "updated_at"}).
			AddRow("c-1", "12345678910", "P1", string(casework.CaseAwaitingDecisionMaker), false, "U1", "E1", at, at))
	mock.ExpectQuery(`SELECT (.+) FROM reviews WHERE episode_id = \?`).
		WithArgs("P1", false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "episode_id", "state", "is_return", "caseworker", "decision_maker", "payout_ref", "superseded", "created_at", "updated_at"}).
			AddRow("r-1", "P1", string(casework.ReviewAwaitingDecisionMaker), false, "S1", "", "U1", false, at, at))
	mock.ExpectExec(`INSERT INTO reviews`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_entries`).WillReturnError(boom)
	mock.ExpectRollback()

	s := caseworktest.NewServices(NewCaseworkStore(db, SQLite))
	err = s.Reviews.Return(context.Background(), "c-1", "B1", "check the dates")
	require.ErrorIs(t, err, boom)
	require.Empty(t, s.Notifier.Updates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM assignments WHERE case_id = \?`).
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := caseworktest.NewServices(NewCaseworkStore(db, SQLite))
	require.NoError(t, s.Assignments.Unassign(context.Background(), "c-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
