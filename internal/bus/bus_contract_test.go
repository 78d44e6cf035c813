package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runBusContract(t *testing.T, newBus func(t *testing.T) Bus) {
	t.Run("FIFOPerTopic", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b := newBus(t)

		for _, id := range []string{"m1", "m2", "m3"} {
			require.NoError(t, b.Publish(ctx, Message{ID: id, Topic: TopicEvent, Body: json.RawMessage(`{}`)}))
		}
		require.NoError(t, b.Publish(ctx, Message{ID: "other", Topic: TopicNeed, Body: json.RawMessage(`{}`)}))
		require.Equal(t, 3, b.Len(TopicEvent))

		for _, want := range []string{"m1", "m2", "m3"} {
			m, err := b.Receive(ctx, TopicEvent)
			require.NoError(t, err)
			require.Equal(t, want, m.ID)
			require.Equal(t, TopicEvent, m.Topic)
			require.False(t, m.PublishedAt.IsZero())
		}
		require.Equal(t, 0, b.Len(TopicEvent))
		require.Equal(t, 1, b.Len(TopicNeed))
	})

	t.Run("ReceiveFromSeveralTopics", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b := newBus(t)

		require.NoError(t, b.Publish(ctx, Message{ID: "s1", Topic: TopicSolution, Body: json.RawMessage(`{}`)}))
		m, err := b.Receive(ctx, TopicEvent, TopicSolution)
		require.NoError(t, err)
		require.Equal(t, "s1", m.ID)
	})

	t.Run("ReceiveBlocksUntilPublish", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b := newBus(t)

		got := make(chan *Message, 1)
		go func() {
			m, err := b.Receive(ctx, TopicEvent)
			if err == nil {
				got <- m
			}
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, b.Publish(ctx, Message{ID: "late", Topic: TopicEvent, Body: json.RawMessage(`{"a":1}`)}))

		select {
		case m := <-got:
			require.Equal(t, "late", m.ID)
			require.JSONEq(t, `{"a":1}`, string(m.Body))
		case <-ctx.Done():
			t.Fatalf("timed out waiting for message")
		}
	})

	t.Run("ReceiveRespectsCancel", func(t *testing.T) {
		b := newBus(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := b.Receive(ctx, TopicEvent)
		require.Error(t, err)
	})
}
