package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus is a Bus backed by per-topic slices. It is safe for
// concurrent use and intended for tests and single-process deployments.
type InMemoryBus struct {
	mu     sync.Mutex
	queues map[Topic][]Message

	// notify is closed and replaced on every publish to wake receivers.
	notify chan struct{}
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		queues: make(map[Topic][]Message),
		notify: make(chan struct{}),
	}
}

// Ensure InMemoryBus implements Bus.
var _ Bus = (*InMemoryBus)(nil)

func (b *InMemoryBus) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.queues[m.Topic] = append(b.queues[m.Topic], m)
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
	return nil
}

func (b *InMemoryBus) Receive(ctx context.Context, topics ...Topic) (*Message, error) {
	for {
		b.mu.Lock()
		for _, t := range topics {
			if q := b.queues[t]; len(q) > 0 {
				m := q[0]
				b.queues[t] = q[1:]
				b.mu.Unlock()
				return &m, nil
			}
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *InMemoryBus) Len(topic Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[topic])
}
