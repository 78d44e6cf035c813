package bus

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestSQLiteBus_Contract(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			t.Fatalf("sql.Open: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		b, err := NewSQLiteBus(db)
		if err != nil {
			t.Fatalf("NewSQLiteBus: %v", err)
		}
		return b
	})
}
