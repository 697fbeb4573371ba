package keystore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one document per project in a single collection, keyed by
// _id so upserts are atomic per project.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("keystore: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// Verify connection quickly
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

// NewMongoStoreWithClient reuses an already-connected client, as when the
// daemon shares one client across stores.
func NewMongoStoreWithClient(client *mongo.Client, dbName, collName string) (*MongoStore, error) {
	if client == nil {
		return nil, errors.New("keystore: nil mongo client")
	}
	return &MongoStore{client: client, coll: client.Database(dbName).Collection(collName)}, nil
}

func (m *MongoStore) Put(ctx context.Context, projectID string, doc []byte) error {
	if projectID == "" {
		return errors.New("keystore: empty project id")
	}
	_, err := m.coll.UpdateByID(
		ctx,
		projectID,
		bson.M{
			"$set": bson.M{
				"doc":       doc,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) Get(ctx context.Context, projectID string) ([]byte, error) {
	if projectID == "" {
		return nil, errors.New("keystore: empty project id")
	}
	var row struct {
		Doc []byte `bson:"doc"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": projectID}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return row.Doc, err
}

func (m *MongoStore) Delete(ctx context.Context, projectID string) error {
	if projectID == "" {
		return errors.New("keystore: empty project id")
	}
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": projectID})
	return err
}

func (m *MongoStore) List(ctx context.Context) ([]string, error) {
	cur, err := m.coll.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err == nil {
			ids = append(ids, row.ID)
		}
	}
	return ids, cur.Err()
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
