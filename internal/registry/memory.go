package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry for single-node deployments and
// tests.
type MemoryRegistry struct {
	mu     sync.RWMutex
	topics map[string]*TopicRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{topics: make(map[string]*TopicRecord)}
}

// GetOrCreate returns the topic's record, provisioning it if absent.
func (r *MemoryRegistry) GetOrCreate(_ context.Context, topic string, dimension int, metric string) (*TopicRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.topics[topic]; ok {
		copied := *rec
		return &copied, nil
	}

	now := time.Now().UTC()
	rec := &TopicRecord{
		Name:       topic,
		Collection: topic,
		Dimension:  dimension,
		Metric:     metric,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.topics[topic] = rec
	copied := *rec
	return &copied, nil
}

// IncrementChunkCount adds delta to the topic's chunk count.
func (r *MemoryRegistry) IncrementChunkCount(_ context.Context, topic string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	rec.ChunkCount += delta
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns the topic's record or ErrTopicNotFound.
func (r *MemoryRegistry) Get(_ context.Context, topic string) (*TopicRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	copied := *rec
	return &copied, nil
}

// List returns all records ordered by topic name.
func (r *MemoryRegistry) List(_ context.Context) ([]TopicRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]TopicRecord, 0, len(r.topics))
	for _, rec := range r.topics {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Ping is a no-op for the in-memory registry.
func (r *MemoryRegistry) Ping(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory registry.
func (r *MemoryRegistry) Close(context.Context) error {
	return nil
}

// Ensure MemoryRegistry implements the Registry interface.
var _ Registry = (*MemoryRegistry)(nil)
