package casework_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/petrijr/saksflyt/internal/bus"
	"github.com/petrijr/saksflyt/internal/casework"
)

func TestBusNotifier_PublishesCaseUpdate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b := bus.NewInMemoryBus()
	n := casework.NewBusNotifier(b)
	require.NoError(t, n.CaseUpdated(ctx, casework.CaseUpdate{CaseID: "c-1", Status: casework.CaseAwaitingCaseworker, OnHold: true}))

	m, err := b.Receive(ctx, bus.TopicCaseUpdated)
	require.NoError(t, err)
	require.Equal(t, "c-1", m.Key)
	require.Equal(t, "oppgave_oppdatert", bus.EventType(m.Body))
	require.Equal(t, "c-1", gjson.GetBytes(m.Body, "oppgaveId").String())
	require.True(t, gjson.GetBytes(m.Body, "påVent").Bool())
	require.Equal(t, "AVVENTER_SAKSBEHANDLER", gjson.GetBytes(m.Body, "status").String())
}

func TestAssignmentService_NotifiesThroughBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b := bus.NewInMemoryBus()
	store := casework.NewMemoryStore()
	cases := casework.NewCaseService(store)
	assignments := casework.NewAssignmentService(store, casework.WithNotifier(casework.NewBusNotifier(b)))

	c, err := cases.CreateForEvent(ctx, casework.NewCase{EventID: "E1", Subject: "12345678910", EpisodeID: "P1", PayoutRef: "U1"})
	require.NoError(t, err)
	require.NoError(t, assignments.Assign(ctx, c.ID, "S1"))
	require.Equal(t, 0, b.Len(bus.TopicCaseUpdated))

	require.NoError(t, assignments.PutOnHold(ctx, c.ID))
	require.Equal(t, 1, b.Len(bus.TopicCaseUpdated))
}
