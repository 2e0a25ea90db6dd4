package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/soyeahso/querydesk/internal/logging"
)

// MongoBackend runs pipelines on a MongoDB database.
type MongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logging.Logger
}

// NewMongoBackend connects to uri and verifies the server answers.
func NewMongoBackend(ctx context.Context, uri, database string, log *logging.Logger) (*MongoBackend, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(uri).
		SetAppName("querydesk").
		SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	b := &MongoBackend{client: client, db: client.Database(database), log: log.Sub("mongo")}
	if err := b.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	b.log.Info().Str("database", database).Msg("document store connected")
	return b, nil
}

func (b *MongoBackend) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.M, error) {
	cur, err := b.db.Collection(collection).Aggregate(ctx, mongo.Pipeline(pipeline))
	if err != nil {
		return nil, err
	}
	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.client.Ping(ctx, nil)
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
