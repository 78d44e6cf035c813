package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/saksflyt/internal/testutil"
)

type MongoDBStoreTestSuite struct {
	suite.Suite
	client   *mongo.Client
	dbName   string
	collName string
}

func TestMongoDBTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	suite.Run(t, &MongoDBStoreTestSuite{
		client:   client,
		dbName:   "saksflyt_test",
		collName: "event_records_test",
	})
}

func (m *MongoDBStoreTestSuite) drop() {
	err := m.client.Database(m.dbName).Collection(m.collName).Drop(context.Background())
	m.Require().NoError(err)
}

func (m *MongoDBStoreTestSuite) TestContract() {
	runRecordStoreContract(m.T(), func(t *testing.T) RecordStore {
		m.drop()
		return NewMongoRecordStore(m.client, m.dbName, m.collName)
	})
}

func (m *MongoDBStoreTestSuite) TestHistoryContract() {
	coll := "event_history_test"
	m.Require().NoError(m.client.Database(m.dbName).Collection(coll).Drop(context.Background()))
	runHistoryStoreContract(m.T(), NewMongoHistoryStore(m.client, m.dbName, coll))
}
