// Package bus carries JSON documents between the orchestrator and the
// services that answer its needs. Messages are grouped by topic; a receiver
// names the topics it consumes and gets each message at most once.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Topic names a message stream.
type Topic string

const (
	TopicEvent        Topic = "hendelse"
	TopicNeed         Topic = "behov"
	TopicSolution     Topic = "losning"
	TopicCaseUpdated  Topic = "oppgave_oppdatert"
	TopicOverrideDone Topic = "overstyring_utfort"
)

// Message is the envelope around one JSON document.
type Message struct {
	ID    string `json:"id"`
	Topic Topic  `json:"topic"`

	// Key is the subject the document concerns, typically a national
	// identity number.
	Key string `json:"key,omitempty"`

	Body json.RawMessage `json:"body"`

	// Attempts counts redeliveries after failed processing.
	Attempts int `json:"attempts,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Bus is a simple async message bus.
type Bus interface {
	// Publish appends m to its topic. It should respect ctx for cancellation.
	Publish(ctx context.Context, m Message) error

	// Receive removes and returns the next message from any of topics,
	// blocking until one is available or the context is cancelled.
	Receive(ctx context.Context, topics ...Topic) (*Message, error)

	// Len returns the approximate number of messages queued on topic.
	Len(topic Topic) int
}

// Subscribe consumes topics from b in a goroutine and delivers the messages
// accepted by pred on the returned channel. Rejected messages are consumed
// and dropped. The channel is closed when ctx is done or Receive fails.
func Subscribe(ctx context.Context, b Bus, pred func(Message) bool, topics ...Topic) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, err := b.Receive(ctx, topics...)
			if err != nil {
				return
			}
			if m == nil || (pred != nil && !pred(*m)) {
				continue
			}
			select {
			case out <- *m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func encodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
