package persistence

import (
	"errors"
	"testing"

	"github.com/petrijr/saksflyt/pkg/api"
)

func TestEncodeDecodeRecord(t *testing.T) {
	rec := newTestRecord("E1", "godkjenningsbehov", api.StatusWaiting)
	rec.Version = 7
	rec.Position = 2

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.Event.ID != "E1" || got.Status != api.StatusWaiting || got.Version != 7 || got.Position != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) || string(got.State) != string(rec.State) {
		t.Fatalf("times or state lost: %+v", got)
	}
}

func TestDecodeRecord_Empty(t *testing.T) {
	if _, err := DecodeRecord(nil); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
