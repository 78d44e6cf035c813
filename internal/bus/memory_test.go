package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInMemoryBus_Contract(t *testing.T) {
	runBusContract(t, func(t *testing.T) Bus { return NewInMemoryBus() })
}

func TestSubscribe_FiltersByPredicate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := NewInMemoryBus()

	ch := Subscribe(ctx, b, ForEvent("E1"), TopicNeed)

	_ = b.Publish(ctx, Message{ID: "x", Topic: TopicNeed, Body: json.RawMessage(`{"hendelseId":"E2"}`)})
	_ = b.Publish(ctx, Message{ID: "y", Topic: TopicNeed, Body: json.RawMessage(`{"hendelseId":"E1"}`)})

	select {
	case m := <-ch:
		if m.ID != "y" {
			t.Fatalf("expected message y, got %s", m.ID)
		}
	case <-ctx.Done():
		t.Fatalf("timed out")
	}

	cancel()
	for range ch {
	}
}
