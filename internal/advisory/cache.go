package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/saksflyt/internal/clock"
	"github.com/petrijr/saksflyt/pkg/api"
)

// DefaultCacheTTL is how long a looked-up fact is reused.
const DefaultCacheTTL = 24 * time.Hour

// FactCache keeps answers to needs per subject so that a later evaluation
// can skip the lookup.
type FactCache interface {
	Get(ctx context.Context, kind api.NeedKind, subject string) (json.RawMessage, bool, error)
	Put(ctx context.Context, kind api.NeedKind, subject string, fact json.RawMessage) error
}

type cachedFact struct {
	fact    json.RawMessage
	expires time.Time
}

// MemoryFactCache is a FactCache in process memory.
type MemoryFactCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	facts map[string]cachedFact
}

// NewMemoryFactCache returns a cache whose entries live for ttl. A zero ttl
// uses DefaultCacheTTL; a nil clock uses the system clock.
func NewMemoryFactCache(ttl time.Duration, clk clock.Clock) *MemoryFactCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryFactCache{ttl: ttl, clock: clk, facts: make(map[string]cachedFact)}
}

func factKey(kind api.NeedKind, subject string) string {
	return string(kind) + ":" + subject
}

func (c *MemoryFactCache) Get(ctx context.Context, kind api.NeedKind, subject string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := factKey(kind, subject)
	f, ok := c.facts[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(f.expires) {
		delete(c.facts, key)
		return nil, false, nil
	}
	return append(json.RawMessage(nil), f.fact...), true, nil
}

func (c *MemoryFactCache) Put(ctx context.Context, kind api.NeedKind, subject string, fact json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts[factKey(kind, subject)] = cachedFact{
		fact:    append(json.RawMessage(nil), fact...),
		expires: c.clock.Now().Add(c.ttl),
	}
	return nil
}

// RedisFactCache stores facts as <prefix>fact:<kind>:<subject> with a TTL.
type RedisFactCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisFactCache(client *redis.Client, prefix string, ttl time.Duration) *RedisFactCache {
	if prefix == "" {
		prefix = "saksflyt:"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisFactCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisFactCache) key(kind api.NeedKind, subject string) string {
	return c.prefix + "fact:" + factKey(kind, subject)
}

func (c *RedisFactCache) Get(ctx context.Context, kind api.NeedKind, subject string) (json.RawMessage, bool, error) {
	data, err := c.client.Get(ctx, c.key(kind, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(data), true, nil
}

func (c *RedisFactCache) Put(ctx context.Context, kind api.NeedKind, subject string, fact json.RawMessage) error {
	return c.client.Set(ctx, c.key(kind, subject), []byte(fact), c.ttl).Err()
}
