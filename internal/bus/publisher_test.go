package bus

import (
	"context"
	"testing"
	"time"

	"github.com/petrijr/saksflyt/pkg/api"
)

func TestNeedPublisher_PublishesOneDocumentPerCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b := NewInMemoryBus()
	p := NewNeedPublisher(b)

	ev := api.Event{ID: "E1", Type: "godkjenningsbehov", Subject: "12345678910"}
	if err := p.PublishNeeds(ctx, ev, nil); err != nil {
		t.Fatalf("PublishNeeds(nil): %v", err)
	}
	if b.Len(TopicNeed) != 0 {
		t.Fatalf("empty needs must not publish")
	}

	err := p.PublishNeeds(ctx, ev, []api.Need{{EventID: "E1", Kind: "Vergemål"}, {EventID: "E1", Kind: "HentEnhet"}})
	if err != nil {
		t.Fatalf("PublishNeeds: %v", err)
	}
	m, err := b.Receive(ctx, TopicNeed)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if kinds := NeedKinds(m.Body); len(kinds) != 2 {
		t.Fatalf("unexpected kinds %v", kinds)
	}
	if !ForEvent("E1")(*m) || !WithEventType("behov")(*m) {
		t.Fatalf("predicates did not match %s", m.Body)
	}
}
