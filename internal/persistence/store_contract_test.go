package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/saksflyt/pkg/api"
)

func newTestRecord(id string, typ api.EventType, status api.Status) *api.EventRecord {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &api.EventRecord{
		Event: api.Event{
			ID:         id,
			Type:       typ,
			Subject:    "12345678910",
			Episode:    "P1",
			Payload:    json.RawMessage(`{"periode":"P1"}`),
			ReceivedAt: now,
		},
		Status:    status,
		Position:  0,
		State:     []byte(`{"needs":[]}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// runRecordStoreContract exercises the behavior every RecordStore must
// share. newStore must return an empty store.
func runRecordStoreContract(t *testing.T, newStore func(t *testing.T) RecordStore) {
	ctx := context.Background()

	t.Run("CreateThenGet", func(t *testing.T) {
		store := newStore(t)
		rec := newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)
		require.NoError(t, store.Create(ctx, rec))

		got, err := store.Get(ctx, "E1")
		require.NoError(t, err)
		require.Equal(t, rec.Event.ID, got.Event.ID)
		require.Equal(t, rec.Event.Type, got.Event.Type)
		require.Equal(t, rec.Event.Subject, got.Event.Subject)
		require.Equal(t, rec.Event.Episode, got.Event.Episode)
		require.JSONEq(t, string(rec.Event.Payload), string(got.Event.Payload))
		require.True(t, rec.Event.ReceivedAt.Equal(got.Event.ReceivedAt))
		require.Equal(t, api.StatusRunning, got.Status)
		require.Equal(t, rec.State, got.State)
		require.EqualValues(t, 0, got.Version)
	})

	t.Run("CreateTwiceReportsExisting", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)))
		err := store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusRunning))
		require.ErrorIs(t, err, ErrRecordExists)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("UpdateChecksVersion", func(t *testing.T) {
		store := newStore(t)
		rec := newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)
		require.NoError(t, store.Create(ctx, rec))

		stale, err := store.Get(ctx, "E1")
		require.NoError(t, err)

		rec.Status = api.StatusWaiting
		rec.Position = 1
		require.NoError(t, store.Update(ctx, rec))
		require.EqualValues(t, 1, rec.Version)

		stale.Status = api.StatusCompleted
		require.ErrorIs(t, store.Update(ctx, stale), api.ErrPersistenceConflict)

		got, err := store.Get(ctx, "E1")
		require.NoError(t, err)
		require.Equal(t, api.StatusWaiting, got.Status)
		require.Equal(t, 1, got.Position)
		require.EqualValues(t, 1, got.Version)
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		store := newStore(t)
		err := store.Update(ctx, newTestRecord("missing", "godkjenningsbehov", api.StatusRunning))
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("ListFilters", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusWaiting)))
		require.NoError(t, store.Create(ctx, newTestRecord("E2", "godkjenningsbehov", api.StatusCompleted)))
		require.NoError(t, store.Create(ctx, newTestRecord("E3", "overstyring", api.StatusWaiting)))

		all, err := store.List(ctx, RecordFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)

		waiting, err := store.List(ctx, RecordFilter{Status: api.StatusWaiting})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"E1", "E3"}, recordIDs(waiting))

		both, err := store.List(ctx, RecordFilter{EventType: "godkjenningsbehov", Status: api.StatusWaiting})
		require.NoError(t, err)
		require.Equal(t, []string{"E1"}, recordIDs(both))
	})

	t.Run("LeaseAcquireRelease", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)))

		acq, err := store.TryAcquireLease(ctx, "E1", "owner1", time.Minute)
		require.NoError(t, err)
		require.True(t, acq, "expected owner1 to acquire")

		acq, err = store.TryAcquireLease(ctx, "E1", "owner1", time.Minute)
		require.NoError(t, err)
		require.True(t, acq, "lease must be re-entrant for the same owner")

		acq, err = store.TryAcquireLease(ctx, "E1", "owner2", time.Minute)
		require.NoError(t, err)
		require.False(t, acq, "expected owner2 not to acquire while active")

		require.NoError(t, store.ReleaseLease(ctx, "E1", "owner2"), "foreign release is a no-op")
		require.NoError(t, store.ReleaseLease(ctx, "E1", "owner1"))

		acq, err = store.TryAcquireLease(ctx, "E1", "owner2", time.Minute)
		require.NoError(t, err)
		require.True(t, acq, "expected owner2 to acquire after release")
	})

	t.Run("LeaseExpires", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)))

		acq, err := store.TryAcquireLease(ctx, "E1", "owner1", 20*time.Millisecond)
		require.NoError(t, err)
		require.True(t, acq)

		time.Sleep(40 * time.Millisecond)

		acq, err = store.TryAcquireLease(ctx, "E1", "owner2", time.Minute)
		require.NoError(t, err)
		require.True(t, acq, "expected owner2 to acquire after expiry")
	})

	t.Run("LeaseConcurrentAcquireOnlyOne", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newTestRecord("E1", "godkjenningsbehov", api.StatusRunning)))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			acquired []string
		)
		for _, owner := range []string{"owner1", "owner2", "owner3", "owner4"} {
			wg.Add(1)
			go func(o string) {
				defer wg.Done()
				ok, err := store.TryAcquireLease(ctx, "E1", o, time.Minute)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				acquired = append(acquired, o)
				mu.Unlock()
			}(owner)
		}
		wg.Wait()

		require.Len(t, acquired, 1, "expected exactly one acquirer, got %v", acquired)
	})

	t.Run("LeaseUnknownRecord", func(t *testing.T) {
		store := newStore(t)
		_, err := store.TryAcquireLease(ctx, "missing", "owner1", time.Minute)
		require.True(t, errors.Is(err, ErrRecordNotFound), "got %v", err)
	})
}

func recordIDs(recs []*api.EventRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.Event.ID
	}
	return ids
}

// runHistoryStoreContract checks append order and per-event isolation.
func runHistoryStoreContract(t *testing.T, store HistoryStore) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendHistory(ctx, api.HistoryEntry{EventID: "E1", At: at, Type: api.HistoryEventReceived, EventType: "godkjenningsbehov", Step: -1}))
	require.NoError(t, store.AppendHistory(ctx, api.HistoryEntry{EventID: "E2", At: at, Type: api.HistoryEventReceived, Step: -1}))
	require.NoError(t, store.AppendHistory(ctx, api.HistoryEntry{EventID: "E1", At: at.Add(time.Second), Type: api.HistoryEventSuspended, Step: 0, Detail: "Vergemål"}))

	entries, err := store.ListHistory(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, api.HistoryEventReceived, entries[0].Type)
	require.Equal(t, api.EventType("godkjenningsbehov"), entries[0].EventType)
	require.Equal(t, api.HistoryEventSuspended, entries[1].Type)
	require.Equal(t, "Vergemål", entries[1].Detail)
	require.True(t, entries[1].At.Equal(at.Add(time.Second)))

	none, err := store.ListHistory(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, none)
}
