// Package search implements the retrieval pipeline: embed the query and
// return the nearest chunks from one topic, or from every topic at once.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/embeddings"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

var tracer = otel.Tracer("topicd.search")

// AllTopics is the topic name that fans a search out over every registered
// topic.
const AllTopics = "__all__"

// DefaultTopK is used when a request does not set top_k.
const DefaultTopK = 5

// Result is one retrieved chunk.
type Result struct {
	// Topic the chunk was retrieved from.
	Topic string `json:"topic"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Source is the filename the chunk came from.
	Source string `json:"source"`

	// Seq is the chunk's position within its document.
	Seq int `json:"seq"`

	// Score is the similarity between the query and the chunk, higher is
	// closer.
	Score float32 `json:"score"`
}

// Service runs the retrieval pipeline.
type Service struct {
	embedder embeddings.Provider
	index    vectorindex.Index
	registry registry.Registry
	logger   *zap.Logger
}

// NewService creates the retrieval service.
func NewService(embedder embeddings.Provider, index vectorindex.Index, reg registry.Registry, logger *zap.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{embedder: embedder, index: index, registry: reg, logger: logger}, nil
}

// Search embeds the query and returns up to topK nearest chunks. The topic
// AllTopics searches every registered topic and merges the results.
func (s *Service) Search(ctx context.Context, topic, query string, topK int) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "search.query")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic), attribute.Int("top_k", topK))

	if query == "" {
		return nil, errors.New("query is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	if topic == AllTopics {
		return s.SearchAll(ctx, query, topK)
	}

	if err := vectorindex.ValidateTopicName(topic); err != nil {
		return nil, err
	}

	// Consult the registry first so a topic that was registered but never
	// indexed still reads as known.
	if _, err := s.registry.Get(ctx, topic); err != nil {
		if errors.Is(err, registry.ErrTopicNotFound) {
			return nil, fmt.Errorf("%w: %q", vectorindex.ErrTopicNotFound, topic)
		}
		return nil, fmt.Errorf("look up topic %q: %w", topic, err)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, topic, vector, topK, nil)
	if err != nil {
		if errors.Is(err, vectorindex.ErrTopicNotFound) {
			// Registered but nothing indexed yet.
			return []Result{}, nil
		}
		return nil, fmt.Errorf("search topic %q: %w", topic, err)
	}

	return toResults(topic, hits), nil
}

// SearchAll fans the query out over every registered topic and merges the
// hits by descending score, capped at topK. Topics that fail to search are
// skipped so one bad collection does not sink the whole query.
func (s *Service) SearchAll(ctx context.Context, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	records, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	merged := make([]Result, 0, topK*len(records))
	for _, rec := range records {
		hits, err := s.index.Search(ctx, rec.Name, vector, topK, nil)
		if err != nil {
			if errors.Is(err, vectorindex.ErrTopicNotFound) {
				continue
			}
			s.logger.Warn("topic search failed, skipping",
				zap.String("topic", rec.Name),
				zap.Error(err))
			continue
		}
		merged = append(merged, toResults(rec.Name, hits)...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func toResults(topic string, hits []vectorindex.Hit) []Result {
	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			Topic:  topic,
			Text:   hit.Payload.Text,
			Source: hit.Payload.Source,
			Seq:    hit.Payload.Seq,
			Score:  hit.Score,
		}
	}
	return results
}
