package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/saksflyt/pkg/api"
)

// MongoRecordStore is a RecordStore backed by a MongoDB collection. One
// document per event; the lease lives on the same document.
type MongoRecordStore struct {
	coll *mongo.Collection
}

var _ RecordStore = (*MongoRecordStore)(nil)

// NewMongoRecordStore creates a Mongo-backed record store.
// dbName defaults to "saksflyt" if empty, collName defaults to "event_records".
func NewMongoRecordStore(client *mongo.Client, dbName, collName string) *MongoRecordStore {
	if dbName == "" {
		dbName = "saksflyt"
	}
	if collName == "" {
		collName = "event_records"
	}

	return &MongoRecordStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoRecordDoc struct {
	ID         string `bson:"_id"`
	EventType  string `bson:"event_type"`
	Subject    string `bson:"subject"`
	Episode    string `bson:"episode,omitempty"`
	Payload    []byte `bson:"payload,omitempty"`
	ReceivedAt int64  `bson:"received_at"`
	Status     string `bson:"status"`
	Position   int    `bson:"position"`
	State      []byte `bson:"state,omitempty"`
	Version    int64  `bson:"version"`
	Error      string `bson:"error,omitempty"`
	CreatedAt  int64  `bson:"created_at"`
	UpdatedAt  int64  `bson:"updated_at"`

	LeaseOwner     string `bson:"lease_owner,omitempty"`
	LeaseExpiresAt int64  `bson:"lease_expires_at,omitempty"`
}

func toMongoDoc(rec *api.EventRecord) mongoRecordDoc {
	return mongoRecordDoc{
		ID:         rec.Event.ID,
		EventType:  string(rec.Event.Type),
		Subject:    rec.Event.Subject,
		Episode:    rec.Event.Episode,
		Payload:    rec.Event.Payload,
		ReceivedAt: rec.Event.ReceivedAt.UnixNano(),
		Status:     string(rec.Status),
		Position:   rec.Position,
		State:      rec.State,
		Version:    rec.Version,
		Error:      rec.Err,
		CreatedAt:  rec.CreatedAt.UnixNano(),
		UpdatedAt:  rec.UpdatedAt.UnixNano(),
	}
}

func (d mongoRecordDoc) record() *api.EventRecord {
	rec := &api.EventRecord{
		Event: api.Event{
			ID:         d.ID,
			Type:       api.EventType(d.EventType),
			Subject:    d.Subject,
			Episode:    d.Episode,
			ReceivedAt: time.Unix(0, d.ReceivedAt).UTC(),
		},
		Status:    api.Status(d.Status),
		Position:  d.Position,
		State:     d.State,
		Version:   d.Version,
		Err:       d.Error,
		CreatedAt: time.Unix(0, d.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, d.UpdatedAt).UTC(),
	}
	if len(d.Payload) > 0 {
		rec.Event.Payload = d.Payload
	}
	return rec
}

func (s *MongoRecordStore) Create(ctx context.Context, rec *api.EventRecord) error {
	_, err := s.coll.InsertOne(ctx, toMongoDoc(rec))
	if mongo.IsDuplicateKeyError(err) {
		return ErrRecordExists
	}
	return err
}

func (s *MongoRecordStore) Get(ctx context.Context, eventID string) (*api.EventRecord, error) {
	var doc mongoRecordDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return doc.record(), nil
}

func (s *MongoRecordStore) Update(ctx context.Context, rec *api.EventRecord) error {
	update := bson.M{
		"$set": bson.M{
			"status":     string(rec.Status),
			"position":   rec.Position,
			"state":      rec.State,
			"version":    rec.Version + 1,
			"error":      rec.Err,
			"updated_at": rec.UpdatedAt.UnixNano(),
		},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": rec.Event.ID, "version": rec.Version}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, rec.Event.ID); err != nil {
			return err
		}
		return api.ErrPersistenceConflict
	}
	rec.Version++
	return nil
}

func (s *MongoRecordStore) List(ctx context.Context, filter RecordFilter) ([]*api.EventRecord, error) {
	bfilter := bson.M{}
	if filter.EventType != "" {
		bfilter["event_type"] = string(filter.EventType)
	}
	if filter.Status != "" {
		bfilter["status"] = string(filter.Status)
	}

	cur, err := s.coll.Find(ctx, bfilter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []*api.EventRecord
	for cur.Next(ctx) {
		var doc mongoRecordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, doc.record())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoRecordStore) TryAcquireLease(ctx context.Context, eventID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	now := time.Now()
	filter := bson.M{
		"_id": eventID,
		"$or": bson.A{
			bson.M{"lease_owner": bson.M{"$exists": false}},
			bson.M{"lease_owner": ""},
			bson.M{"lease_owner": owner},
			bson.M{"lease_expires_at": bson.M{"$lte": now.UnixNano()}},
		},
	}
	update := bson.M{"$set": bson.M{
		"lease_owner":      owner,
		"lease_expires_at": now.Add(ttl).UnixNano(),
	}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, eventID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *MongoRecordStore) ReleaseLease(ctx context.Context, eventID, owner string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": eventID, "lease_owner": owner},
		bson.M{"$unset": bson.M{"lease_owner": "", "lease_expires_at": ""}},
	)
	return err
}

// MongoHistoryStore appends history entries as documents, ordered by an
// insertion sequence per event.
type MongoHistoryStore struct {
	coll *mongo.Collection
}

var _ HistoryStore = (*MongoHistoryStore)(nil)

// NewMongoHistoryStore creates a Mongo-backed history store.
// collName defaults to "event_history".
func NewMongoHistoryStore(client *mongo.Client, dbName, collName string) *MongoHistoryStore {
	if dbName == "" {
		dbName = "saksflyt"
	}
	if collName == "" {
		collName = "event_history"
	}
	return &MongoHistoryStore{coll: client.Database(dbName).Collection(collName)}
}

type mongoHistoryDoc struct {
	EventID   string `bson:"event_id"`
	At        int64  `bson:"at"`
	Type      string `bson:"type"`
	EventType string `bson:"event_type,omitempty"`
	Step      int    `bson:"step"`
	Detail    string `bson:"detail,omitempty"`
}

func (s *MongoHistoryStore) AppendHistory(ctx context.Context, entry api.HistoryEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.coll.InsertOne(ctx, mongoHistoryDoc{
		EventID:   entry.EventID,
		At:        at.UnixNano(),
		Type:      string(entry.Type),
		EventType: string(entry.EventType),
		Step:      entry.Step,
		Detail:    entry.Detail,
	})
	return err
}

func (s *MongoHistoryStore) ListHistory(ctx context.Context, eventID string) ([]api.HistoryEntry, error) {
	// ObjectIDs grow monotonically per client, which keeps append order.
	cur, err := s.coll.Find(ctx, bson.M{"event_id": eventID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.HistoryEntry
	for cur.Next(ctx) {
		var doc mongoHistoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.HistoryEntry{
			EventID:   doc.EventID,
			At:        time.Unix(0, doc.At).UTC(),
			Type:      api.HistoryType(doc.Type),
			EventType: api.EventType(doc.EventType),
			Step:      doc.Step,
			Detail:    doc.Detail,
		})
	}
	return out, cur.Err()
}
