// Package vectorindex manages one similarity-search collection per topic.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors for vector index operations.
var (
	// ErrTopicNotFound is returned when no collection exists for a topic.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrDimensionMismatch is returned when a topic's collection was created
	// with a different vector dimension. This usually means the embedding
	// model changed; the collection is never silently recreated.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")

	// ErrInvalidTopicName indicates topic name validation failure.
	ErrInvalidTopicName = errors.New("invalid topic name")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backing store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// topicNamePattern validates topic names, which double as collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var topicNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateTopicName rejects names unsafe for use as collection identifiers:
// uppercase, special characters, path traversal, spaces.
func ValidateTopicName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: topic name cannot be empty", ErrInvalidTopicName)
	}
	if !topicNamePattern.MatchString(name) {
		return fmt.Errorf("%w: topic name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidTopicName, name)
	}
	return nil
}

// PartialUpsertError reports an upsert where some points were written and
// others were not. FailedIDs lists every point that is not durably stored,
// so the caller can decide whether to retry.
type PartialUpsertError struct {
	FailedIDs []string
	Err       error
}

// Error implements the error interface.
func (e *PartialUpsertError) Error() string {
	return fmt.Sprintf("upsert partially failed for %d points (%s): %v",
		len(e.FailedIDs), strings.Join(e.FailedIDs, ", "), e.Err)
}

// Unwrap returns the underlying cause.
func (e *PartialUpsertError) Unwrap() error {
	return e.Err
}

// Metric is the distance metric used by a collection, fixed at creation.
type Metric string

const (
	// MetricCosine is the default similarity metric.
	MetricCosine Metric = "cosine"
	// MetricEuclid is Euclidean distance.
	MetricEuclid Metric = "euclid"
	// MetricDot is dot-product similarity.
	MetricDot Metric = "dot"
)

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(s)) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricEuclid:
		return MetricEuclid, nil
	case MetricDot:
		return MetricDot, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", ErrInvalidConfig, s)
	}
}

// Payload is the chunk data stored alongside a vector.
type Payload struct {
	// Text is the chunk content.
	Text string
	// Source is the owning document filename.
	Source string
	// Seq is the chunk sequence index within the document.
	Seq int
}

// Point is one vector with its stable identifier and payload.
type Point struct {
	// ID is a UUID derived from document identity and sequence index.
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is one search result.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Filter restricts a search to a subset of stored points.
type Filter struct {
	// Source, when non-empty, matches only chunks of that document.
	Source string
}

// Index is the per-topic vector collection manager.
//
// One collection per topic, keyed by topic name, with a fixed dimension and
// distance metric decided at creation time.
type Index interface {
	// EnsureCollection creates the topic's collection if absent. It is
	// idempotent and safe under concurrent first use: losing a creation
	// race is treated as success. If the collection exists with a
	// different dimension it returns ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, topic string, dimension int, metric Metric) error

	// Upsert inserts or replaces points by identifier. The call is atomic
	// from the caller's perspective: either all points are stored, or the
	// failure names exactly which were not (PartialUpsertError).
	Upsert(ctx context.Context, topic string, points []Point) error

	// Search returns up to topK nearest points ordered by descending
	// similarity score, ties broken stably. Searching a provisioned but
	// empty topic yields an empty slice; an unprovisioned topic yields
	// ErrTopicNotFound.
	Search(ctx context.Context, topic string, vector []float32, topK int, filter *Filter) ([]Hit, error)

	// Scroll returns up to limit stored points in a stable order, payload
	// only. It serves topic inspection, not retrieval.
	Scroll(ctx context.Context, topic string, limit int) ([]Point, error)

	// Count returns the number of points stored for a topic.
	Count(ctx context.Context, topic string) (int, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the backing connection.
	Close() error
}
