package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus using one Redis list per topic:
//
//	<prefix>bus:<topic>
//
// Values are JSON-encoded Message envelopes. Publish uses LPUSH and Receive
// BRPOP, so each topic is FIFO.
type RedisBus struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBus constructs a Redis-backed Bus.
// prefix is optional but recommended (e.g. "saksflyt:").
func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "saksflyt:"
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		logger: slog.Default(),
	}
}

// Ensure RedisBus implements Bus.
var _ Bus = (*RedisBus)(nil)

func (b *RedisBus) key(t Topic) string {
	return b.prefix + "bus:" + string(t)
}

func (b *RedisBus) Publish(ctx context.Context, m Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.PublishedAt.IsZero() {
		m.PublishedAt = time.Now().UTC()
	}
	data, err := encodeMessage(m)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.key(m.Topic), data).Err()
}

// Receive blocks on BRPOP until a message is available or ctx is cancelled.
func (b *RedisBus) Receive(ctx context.Context, topics ...Topic) (*Message, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	keys := make([]string, len(topics))
	for i, t := range topics {
		keys[i] = b.key(t)
	}

	for {
		// BRPop returns [key, value]
		res, err := b.client.BRPop(ctx, 0, keys...).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(res) != 2 {
			// Unexpected shape; log and try again.
			b.logger.WarnContext(ctx, "redis_bus_unexpected_brpop", slog.Any("result", res))
			continue
		}
		return decodeMessage([]byte(res[1]))
	}
}

// Len returns the approximate number of messages queued (LLEN).
func (b *RedisBus) Len(topic Topic) int {
	n, err := b.client.LLen(context.Background(), b.key(topic)).Result()
	if err != nil {
		b.logger.Warn("redis_bus_len_failed", slog.Any("error", err))
		return 0
	}
	return int(n)
}
