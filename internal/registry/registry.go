// Package registry is the authoritative record of provisioned topics and
// their chunk counts, held independently of the vector store's own
// bookkeeping so the two can be checked against each other.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corpusworks/topicd/internal/config"
)

// ErrTopicNotFound is returned when a topic has never been provisioned.
var ErrTopicNotFound = errors.New("topic not registered")

// TopicRecord is the control-plane record for one topic. It is mutated only
// by the ingestion pipeline, and only after a successful vector-store write.
type TopicRecord struct {
	// Name is the topic identifier.
	Name string `bson:"name" json:"name"`

	// Collection is the vector collection name (currently equal to Name).
	Collection string `bson:"collection" json:"collection"`

	// Dimension is the vector dimension fixed at collection creation.
	Dimension int `bson:"dimension" json:"dimension"`

	// Metric is the distance metric identifier.
	Metric string `bson:"metric" json:"metric"`

	// ChunkCount is the number of chunks stored for the topic.
	ChunkCount int64 `bson:"chunk_count" json:"chunk_count"`

	// CreatedAt is when the topic was first provisioned.
	CreatedAt time.Time `bson:"created_at" json:"created_at"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Registry tracks provisioned topics. Mutation is append/increment-only;
// topic deletion is an administrative action outside the pipeline.
type Registry interface {
	// GetOrCreate returns the topic's record, provisioning it if absent.
	// Idempotent and safe under concurrent first use.
	GetOrCreate(ctx context.Context, topic string, dimension int, metric string) (*TopicRecord, error)

	// IncrementChunkCount adds delta to the topic's chunk count and bumps
	// the update time. Returns ErrTopicNotFound for unknown topics.
	IncrementChunkCount(ctx context.Context, topic string, delta int64) error

	// Get returns the topic's record or ErrTopicNotFound.
	Get(ctx context.Context, topic string) (*TopicRecord, error)

	// List returns all records ordered by topic name.
	List(ctx context.Context) ([]TopicRecord, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the backing connection.
	Close(ctx context.Context) error
}

// New creates a Registry from configuration.
func New(ctx context.Context, cfg config.RegistryConfig) (Registry, error) {
	switch cfg.Backend {
	case "mongo", "":
		return NewMongoRegistry(ctx, MongoConfig{
			URI:      cfg.URI.Value(),
			Database: cfg.Database,
		})
	case "memory":
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
