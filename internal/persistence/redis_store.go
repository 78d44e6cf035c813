package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/saksflyt/pkg/api"
)

// RedisRecordStore is a RecordStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>rec:<event-id>             => gob-encoded record
//	<prefix>lease:<event-id>           => lease owner, with PX expiry
//	<prefix>idx:all                    => SET of all event ids
//	<prefix>idx:type:<event-type>      => SET of event ids for a given type
//	<prefix>idx:status:<status>        => SET of event ids for a given status
//
// Updates are optimistic: the record key is WATCHed and the write is
// discarded if another client changed it in between.
type RedisRecordStore struct {
	client *redis.Client
	prefix string
}

var _ RecordStore = (*RedisRecordStore)(nil)

// NewRedisRecordStore creates a RedisRecordStore.
// prefix is optional but recommended (e.g. "saksflyt:").
func NewRedisRecordStore(client *redis.Client, prefix string) *RedisRecordStore {
	if prefix == "" {
		prefix = "saksflyt:"
	}
	return &RedisRecordStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisRecordStore) keyRecord(id string) string {
	return r.prefix + "rec:" + id
}

func (r *RedisRecordStore) keyLease(id string) string {
	return r.prefix + "lease:" + id
}

func (r *RedisRecordStore) keyAll() string {
	return r.prefix + "idx:all"
}

func (r *RedisRecordStore) keyType(t api.EventType) string {
	return r.prefix + "idx:type:" + string(t)
}

func (r *RedisRecordStore) keyStatus(status api.Status) string {
	return r.prefix + "idx:status:" + string(status)
}

func (r *RedisRecordStore) Create(ctx context.Context, rec *api.EventRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, r.keyRecord(rec.Event.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordExists
	}

	// Indexes are best-effort; List re-checks the payload.
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), rec.Event.ID)
	pipe.SAdd(ctx, r.keyType(rec.Event.Type), rec.Event.ID)
	pipe.SAdd(ctx, r.keyStatus(rec.Status), rec.Event.ID)
	_, _ = pipe.Exec(ctx)
	return nil
}

func (r *RedisRecordStore) Get(ctx context.Context, eventID string) (*api.EventRecord, error) {
	data, err := r.client.Get(ctx, r.keyRecord(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return DecodeRecord(data)
}

func (r *RedisRecordStore) Update(ctx context.Context, rec *api.EventRecord) error {
	key := r.keyRecord(rec.Event.ID)
	next := *rec
	next.Version = rec.Version + 1
	data, err := EncodeRecord(&next)
	if err != nil {
		return err
	}

	var prevStatus api.Status
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRecordNotFound
			}
			return err
		}
		stored, err := DecodeRecord(cur)
		if err != nil {
			return err
		}
		if stored.Version != rec.Version {
			return api.ErrPersistenceConflict
		}
		prevStatus = stored.Status
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if prevStatus != rec.Status {
				pipe.SRem(ctx, r.keyStatus(prevStatus), rec.Event.ID)
				pipe.SAdd(ctx, r.keyStatus(rec.Status), rec.Event.ID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return api.ErrPersistenceConflict
	}
	if err != nil {
		return err
	}
	rec.Version = next.Version
	return nil
}

func (r *RedisRecordStore) List(ctx context.Context, filter RecordFilter) ([]*api.EventRecord, error) {
	var (
		ids []string
		err error
	)
	switch {
	case filter.EventType != "" && filter.Status != "":
		ids, err = r.client.SInter(ctx, r.keyType(filter.EventType), r.keyStatus(filter.Status)).Result()
	case filter.EventType != "":
		ids, err = r.client.SMembers(ctx, r.keyType(filter.EventType)).Result()
	case filter.Status != "":
		ids, err = r.client.SMembers(ctx, r.keyStatus(filter.Status)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.EventRecord{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.EventRecord{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyRecord(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var records []*api.EventRecord
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		if filter.EventType != "" && rec.Event.Type != filter.EventType {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

var (
	// Lua script for acquiring a lease with re-entrant behavior for the same owner.
	// Returns 1 if acquired/refreshed, 0 otherwise.
	redisLeaseAcquireLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	// Lua script for releasing a lease. Returns 1 if released, 0 otherwise.
	redisLeaseReleaseLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`)
)

func (r *RedisRecordStore) TryAcquireLease(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	exists, err := r.client.Exists(ctx, r.keyRecord(eventID)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrRecordNotFound
	}
	n, err := redisLeaseAcquireLua.Run(ctx, r.client, []string{r.keyLease(eventID)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisRecordStore) ReleaseLease(ctx context.Context, eventID, owner string) error {
	return redisLeaseReleaseLua.Run(ctx, r.client, []string{r.keyLease(eventID)}, owner).Err()
}

// RedisHistoryStore keeps each event's history as a Redis list of JSON
// entries under <prefix>hist:<event-id>.
type RedisHistoryStore struct {
	client *redis.Client
	prefix string
}

var _ HistoryStore = (*RedisHistoryStore)(nil)

// NewRedisHistoryStore creates a RedisHistoryStore. prefix defaults to
// "saksflyt:".
func NewRedisHistoryStore(client *redis.Client, prefix string) *RedisHistoryStore {
	if prefix == "" {
		prefix = "saksflyt:"
	}
	return &RedisHistoryStore{client: client, prefix: prefix}
}

func (r *RedisHistoryStore) key(eventID string) string {
	return r.prefix + "hist:" + eventID
}

func (r *RedisHistoryStore) AppendHistory(ctx context.Context, entry api.HistoryEntry) error {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key(entry.EventID), data).Err()
}

func (r *RedisHistoryStore) ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	items, err := r.client.LRange(ctx, r.key(eventID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]api.HistoryEntry, 0, len(items))
	for _, item := range items {
		var e api.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
