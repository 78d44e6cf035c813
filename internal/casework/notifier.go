package casework

import (
	"context"

	"github.com/petrijr/saksflyt/internal/bus"
)

// CaseUpdate tells connected viewers that a case changed.
type CaseUpdate struct {
	CaseID string
	Status CaseStatus
	OnHold bool
}

// Notifier pushes case updates. Delivery is fire-and-forget: callers log a
// failure and keep the committed change.
type Notifier interface {
	CaseUpdated(ctx context.Context, u CaseUpdate) error
}

// NopNotifier discards updates.
type NopNotifier struct{}

func (NopNotifier) CaseUpdated(context.Context, CaseUpdate) error { return nil }

// BusNotifier publishes updates as oppgave_oppdatert documents.
type BusNotifier struct {
	bus bus.Bus
}

func NewBusNotifier(b bus.Bus) *BusNotifier {
	return &BusNotifier{bus: b}
}

func (n *BusNotifier) CaseUpdated(ctx context.Context, u CaseUpdate) error {
	msg, err := bus.NewDocument(bus.TopicCaseUpdated, "oppgave_oppdatert", u.CaseID, map[string]any{
		"oppgaveId": u.CaseID,
		"status":    string(u.Status),
		"påVent":    u.OnHold,
	})
	if err != nil {
		return err
	}
	return n.bus.Publish(ctx, msg)
}
