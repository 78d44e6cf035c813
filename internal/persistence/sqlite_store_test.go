package persistence

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteRecordStore_Contract(t *testing.T) {
	runRecordStoreContract(t, func(t *testing.T) RecordStore {
		store, err := NewSQLiteRecordStore(openTestSQLite(t))
		if err != nil {
			t.Fatalf("NewSQLiteRecordStore: %v", err)
		}
		return store
	})
}

func TestSQLiteHistoryStore_Contract(t *testing.T) {
	store, err := NewSQLiteHistoryStore(openTestSQLite(t))
	if err != nil {
		t.Fatalf("NewSQLiteHistoryStore: %v", err)
	}
	runHistoryStoreContract(t, store)
}

func TestSQLiteRecordStore_SchemaIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	if _, err := NewSQLiteRecordStore(db); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := NewSQLiteRecordStore(db); err != nil {
		t.Fatalf("second init: %v", err)
	}
}
