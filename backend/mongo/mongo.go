// Package mongo adapts a MongoDB collection as a document-store backend.
package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/unkn0wn-root/identicache/backend"
	"github.com/unkn0wn-root/identicache/identity"
)

var ErrNilClient = errors.New("mongo backend: nil client")

type Mongo struct {
	coll        *mongo.Collection
	client      *mongo.Client
	closeClient bool
}

var _ backend.Backend = (*Mongo)(nil)

type Config struct {
	Client     *mongo.Client
	Database   string
	Collection string
	// CloseClient set true only if this adapter exclusively owns the client.
	CloseClient bool
}

func New(cfg Config) (*Mongo, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, errors.New("mongo backend: database and collection are required")
	}
	return &Mongo{
		coll:        cfg.Client.Database(cfg.Database).Collection(cfg.Collection),
		client:      cfg.Client,
		closeClient: cfg.CloseClient,
	}, nil
}

func (m *Mongo) Kind() backend.Kind { return backend.KindMongo }

func (m *Mongo) FindByID(ctx context.Context, userID string) (identity.Record, bool, error) {
	return m.findOne(ctx, bson.M{"userId": userID})
}

func (m *Mongo) FindByEmail(ctx context.Context, email string) (identity.Record, bool, error) {
	return m.findOne(ctx, bson.M{"email": email})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (identity.Record, bool, error) {
	var rec identity.Record
	err := m.coll.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return identity.Record{}, false, nil
	}
	if err != nil {
		return identity.Record{}, false, err
	}
	return rec, true, nil
}

// Upsert uses $set rather than a full replace so a pre-existing document's
// _id is never touched.
func (m *Mongo) Upsert(ctx context.Context, rec identity.Record) error {
	_, err := m.coll.UpdateOne(ctx,
		bson.M{"userId": rec.UserID},
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.closeClient {
		return m.client.Disconnect(ctx)
	}
	return nil
}
