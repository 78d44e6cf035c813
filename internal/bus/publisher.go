package bus

import (
	"context"

	"github.com/petrijr/saksflyt/pkg/api"
)

// NeedPublisher publishes an event's needs as one behov document.
type NeedPublisher struct {
	bus Bus
}

var _ api.NeedPublisher = (*NeedPublisher)(nil)

func NewNeedPublisher(b Bus) *NeedPublisher {
	return &NeedPublisher{bus: b}
}

func (p *NeedPublisher) PublishNeeds(ctx context.Context, ev api.Event, needs []api.Need) error {
	if len(needs) == 0 {
		return nil
	}
	m, err := NeedDocument(ev, needs)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, m)
}
