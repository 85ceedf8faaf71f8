package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/chunker"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

const testDimension = 8

// hashEmbedder maps each text to a deterministic unit vector so that
// identical texts always embed identically.
type hashEmbedder struct {
	failDocuments error
}

func (e *hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.failDocuments != nil {
		return nil, e.failDocuments
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embedText(text)
	}
	return vectors, nil
}

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func (e *hashEmbedder) Dimension() int { return testDimension }

func (e *hashEmbedder) Close() error { return nil }

func embedText(text string) []float32 {
	vec := make([]float32, testDimension)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed%1000) / 1000.0
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= float32(norm)
	}
	return vec
}

func newTestService(t *testing.T, embedder *hashEmbedder) (*Service, vectorindex.Index, registry.Registry) {
	t.Helper()

	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)

	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{})
	require.NoError(t, err)

	reg := registry.NewMemoryRegistry()

	svc, err := NewService(splitter, embedder, index, reg, vectorindex.MetricCosine, zap.NewNop())
	require.NoError(t, err)
	return svc, index, reg
}

func TestIngest_WritesChunksAndRegistry(t *testing.T) {
	ctx := context.Background()
	svc, index, reg := newTestService(t, &hashEmbedder{})

	text := "Go is a statically typed language. It compiles fast. Concurrency is built in with goroutines and channels."
	result, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "intro.txt", Text: text})
	require.NoError(t, err)

	assert.Equal(t, "golang", result.Topic)
	assert.Greater(t, result.Chunks, 1)
	assert.Equal(t, int64(result.Chunks), result.ChunksAdded)
	assert.False(t, result.Skipped)

	count, err := index.Count(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, result.Chunks, count)

	rec, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, int64(result.Chunks), rec.ChunkCount)
	assert.Equal(t, testDimension, rec.Dimension)
	assert.Equal(t, "cosine", rec.Metric)
}

func TestIngest_ReingestDoesNotInflateCount(t *testing.T) {
	ctx := context.Background()
	svc, index, reg := newTestService(t, &hashEmbedder{})

	text := "Go is a statically typed language. It compiles fast. Concurrency is built in with goroutines and channels."
	first, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "intro.txt", Text: text})
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "intro.txt", Text: text})
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Zero(t, second.ChunksAdded)

	count, err := index.Count(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, count)

	rec, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, int64(first.Chunks), rec.ChunkCount)
}

func TestIngest_SecondDocumentAddsToCount(t *testing.T) {
	ctx := context.Background()
	svc, _, reg := newTestService(t, &hashEmbedder{})

	first, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "a.txt", Text: "First document about Go. It has enough text to make chunks."})
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "b.txt", Text: "Second document about Go modules. Also long enough for chunking."})
	require.NoError(t, err)

	rec, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, int64(first.Chunks+second.Chunks), rec.ChunkCount)
}

func TestIngest_EmptyDocumentRegistersTopic(t *testing.T) {
	ctx := context.Background()
	svc, index, reg := newTestService(t, &hashEmbedder{})

	result, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "empty.txt", Text: ""})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, result.Chunks)
	assert.Zero(t, result.ChunksAdded)

	// The topic exists in the registry even though nothing was indexed.
	rec, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Zero(t, rec.ChunkCount)

	_, err = index.Count(ctx, "golang")
	assert.ErrorIs(t, err, vectorindex.ErrTopicNotFound)
}

func TestIngest_InvalidTopicName(t *testing.T) {
	svc, _, _ := newTestService(t, &hashEmbedder{})

	_, err := svc.Ingest(context.Background(), Request{Topic: "Not Valid!", Filename: "a.txt", Text: "text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorindex.ErrInvalidTopicName)
}

func TestIngest_MissingFilename(t *testing.T) {
	svc, _, _ := newTestService(t, &hashEmbedder{})

	_, err := svc.Ingest(context.Background(), Request{Topic: "golang", Text: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filename")
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	embedErr := errors.New("provider unavailable")
	svc, index, reg := newTestService(t, &hashEmbedder{failDocuments: embedErr})

	_, err := svc.Ingest(ctx, Request{Topic: "golang", Filename: "a.txt", Text: "Some text to ingest. It will fail at the embedding stage."})
	require.Error(t, err)
	assert.ErrorIs(t, err, embedErr)

	// The collection was never created, so nothing was written.
	_, err = index.Count(ctx, "golang")
	assert.ErrorIs(t, err, vectorindex.ErrTopicNotFound)

	// The topic itself is registered; registration precedes embedding.
	rec, regErr := reg.Get(ctx, "golang")
	require.NoError(t, regErr)
	assert.Zero(t, rec.ChunkCount)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)
	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{})
	require.NoError(t, err)
	reg := registry.NewMemoryRegistry()

	_, err = NewService(nil, &hashEmbedder{}, index, reg, vectorindex.MetricCosine, nil)
	assert.Error(t, err)

	_, err = NewService(splitter, nil, index, reg, vectorindex.MetricCosine, nil)
	assert.Error(t, err)

	_, err = NewService(splitter, &hashEmbedder{}, nil, reg, vectorindex.MetricCosine, nil)
	assert.Error(t, err)

	_, err = NewService(splitter, &hashEmbedder{}, index, nil, vectorindex.MetricCosine, nil)
	assert.Error(t, err)

	svc, err := NewService(splitter, &hashEmbedder{}, index, reg, vectorindex.MetricCosine, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
