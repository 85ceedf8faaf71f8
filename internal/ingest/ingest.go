// Package ingest implements the document ingestion pipeline: chunk the
// document, embed the chunks, upsert the vectors into the topic's collection,
// and update the topic registry.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/chunker"
	"github.com/corpusworks/topicd/internal/embeddings"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

var tracer = otel.Tracer("topicd.ingest")

// Request describes one document to ingest into a topic.
type Request struct {
	// Topic is the destination topic name.
	Topic string

	// Filename identifies the document within the topic. Re-ingesting the
	// same filename replaces its chunks.
	Filename string

	// Text is the extracted plain text of the document.
	Text string
}

// Result reports what one ingestion wrote.
type Result struct {
	Topic string `json:"topic"`

	Filename string `json:"filename"`

	// Chunks is how many chunks the document split into.
	Chunks int `json:"chunks"`

	// ChunksAdded is how many points were new to the collection. A
	// re-ingest of an unchanged document adds zero.
	ChunksAdded int64 `json:"chunks_added"`

	// Skipped is true when the document produced no chunks. The topic is
	// still registered.
	Skipped bool `json:"skipped"`
}

// Service runs the ingestion pipeline.
type Service struct {
	splitter *chunker.Splitter
	embedder embeddings.Provider
	index    vectorindex.Index
	registry registry.Registry
	metric   vectorindex.Metric
	logger   *zap.Logger
}

// NewService creates the ingestion service. All dependencies are required.
func NewService(splitter *chunker.Splitter, embedder embeddings.Provider, index vectorindex.Index, reg registry.Registry, metric vectorindex.Metric, logger *zap.Logger) (*Service, error) {
	if splitter == nil {
		return nil, errors.New("splitter is required")
	}
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
	return &Service{
		splitter: splitter,
		embedder: embedder,
		index:    index,
		registry: reg,
		metric:   metric,
		logger:   logger,
	}, nil
}

// Ingest runs the pipeline for one document. Stages run strictly in order:
// chunk, embed, ensure collection, upsert, then update the registry. A
// failure at any stage stops the pipeline; nothing later runs.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.document")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", req.Topic),
		attribute.String("filename", req.Filename),
	)

	if err := vectorindex.ValidateTopicName(req.Topic); err != nil {
		return nil, err
	}
	if req.Filename == "" {
		return nil, errors.New("filename is required")
	}

	chunks := s.splitter.Split(req.Text)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	// Register the topic even when the document is empty, so an empty
	// upload still provisions the topic.
	if _, err := s.registry.GetOrCreate(ctx, req.Topic, s.embedder.Dimension(), string(s.metric)); err != nil {
		return nil, fmt.Errorf("register topic %q: %w", req.Topic, err)
	}

	if len(chunks) == 0 {
		s.logger.Info("document produced no chunks, skipping",
			zap.String("topic", req.Topic),
			zap.String("filename", req.Filename))
		return &Result{Topic: req.Topic, Filename: req.Filename, Skipped: true}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := s.index.EnsureCollection(ctx, req.Topic, s.embedder.Dimension(), s.metric); err != nil {
		return nil, fmt.Errorf("ensure collection %q: %w", req.Topic, err)
	}

	before, err := s.index.Count(ctx, req.Topic)
	if err != nil {
		return nil, fmt.Errorf("count collection %q: %w", req.Topic, err)
	}

	points := make([]vectorindex.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorindex.Point{
			ID:     chunker.ChunkID(req.Topic, req.Filename, c.Seq),
			Vector: vectors[i],
			Payload: vectorindex.Payload{
				Text:   c.Text,
				Source: req.Filename,
				Seq:    c.Seq,
			},
		}
	}

	if err := s.index.Upsert(ctx, req.Topic, points); err != nil {
		return nil, fmt.Errorf("upsert %d points into %q: %w", len(points), req.Topic, err)
	}

	after, err := s.index.Count(ctx, req.Topic)
	if err != nil {
		return nil, fmt.Errorf("count collection %q: %w", req.Topic, err)
	}

	// Chunk IDs are deterministic, so a re-ingest replaces points in
	// place. Counting the collection before and after keeps the registry
	// accurate without tracking which IDs were new.
	added := int64(after - before)
	if added != 0 {
		if err := s.registry.IncrementChunkCount(ctx, req.Topic, added); err != nil {
			return nil, fmt.Errorf("update chunk count for %q: %w", req.Topic, err)
		}
	}

	s.logger.Info("document ingested",
		zap.String("topic", req.Topic),
		zap.String("filename", req.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Int64("chunks_added", added))

	return &Result{
		Topic:       req.Topic,
		Filename:    req.Filename,
		Chunks:      len(chunks),
		ChunksAdded: added,
	}, nil
}
