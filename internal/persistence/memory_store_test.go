package persistence

import (
	"context"
	"testing"

	"github.com/petrijr/saksflyt/pkg/api"
)

func TestInMemoryStore_RecordContract(t *testing.T) {
	runRecordStoreContract(t, func(t *testing.T) RecordStore { return NewInMemoryStore() })
}

func TestInMemoryStore_HistoryContract(t *testing.T) {
	runHistoryStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec := newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec.State[0] = 'X'

	got, err := store.Get(ctx, "E1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State[0] == 'X' {
		t.Fatalf("store shares state with caller")
	}
	got.Status = api.StatusFailed

	again, _ := store.Get(ctx, "E1")
	if again.Status != api.StatusRunning {
		t.Fatalf("mutating a returned record changed the store")
	}
}
