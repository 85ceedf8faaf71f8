package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const topicsCollection = "topics_meta"

// MongoConfig holds configuration for the MongoDB registry backend.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string

	// Database is the database name. Defaults to "topicd".
	Database string

	// ConnectTimeout bounds the initial connectivity check. Defaults to 5s.
	ConnectTimeout time.Duration
}

// MongoRegistry stores topic records in a MongoDB collection, one document
// per topic keyed by name.
type MongoRegistry struct {
	client *mongo.Client
	topics *mongo.Collection
}

// NewMongoRegistry connects to MongoDB and verifies reachability.
func NewMongoRegistry(ctx context.Context, cfg MongoConfig) (*MongoRegistry, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo URI required")
	}
	if cfg.Database == "" {
		cfg.Database = "topicd"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	return &MongoRegistry{
		client: client,
		topics: client.Database(cfg.Database).Collection(topicsCollection),
	}, nil
}

// GetOrCreate upserts the topic document with $setOnInsert, so concurrent
// first uploads for the same topic resolve to a single record.
func (r *MongoRegistry) GetOrCreate(ctx context.Context, topic string, dimension int, metric string) (*TopicRecord, error) {
	now := time.Now().UTC()
	filter := bson.D{{Key: "name", Value: topic}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "name", Value: topic},
		{Key: "collection", Value: topic},
		{Key: "dimension", Value: dimension},
		{Key: "metric", Value: metric},
		{Key: "chunk_count", Value: int64(0)},
		{Key: "created_at", Value: now},
		{Key: "updated_at", Value: now},
	}}}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var rec TopicRecord
	if err := r.topics.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec); err != nil {
		return nil, fmt.Errorf("get-or-create topic %q: %w", topic, err)
	}
	return &rec, nil
}

// IncrementChunkCount adds delta via $inc and bumps updated_at.
func (r *MongoRegistry) IncrementChunkCount(ctx context.Context, topic string, delta int64) error {
	filter := bson.D{{Key: "name", Value: topic}}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "chunk_count", Value: delta}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
	}

	res, err := r.topics.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("incrementing chunk count for %q: %w", topic, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	return nil
}

// Get returns the topic's record or ErrTopicNotFound.
func (r *MongoRegistry) Get(ctx context.Context, topic string) (*TopicRecord, error) {
	var rec TopicRecord
	err := r.topics.FindOne(ctx, bson.D{{Key: "name", Value: topic}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("getting topic %q: %w", topic, err)
	}
	return &rec, nil
}

// List returns all records ordered by topic name.
func (r *MongoRegistry) List(ctx context.Context) ([]TopicRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := r.topics.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer cur.Close(ctx)

	var records []TopicRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decoding topics: %w", err)
	}
	return records, nil
}

// Ping checks MongoDB reachability.
func (r *MongoRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (r *MongoRegistry) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Ensure MongoRegistry implements the Registry interface.
var _ Registry = (*MongoRegistry)(nil)
