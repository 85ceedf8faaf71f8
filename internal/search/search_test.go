package search

import (
	"context"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/chunker"
	"github.com/corpusworks/topicd/internal/ingest"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

const testDimension = 8

// hashEmbedder maps each text to a deterministic unit vector.
type hashEmbedder struct{}

func (hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embedText(text)
	}
	return vectors, nil
}

func (hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func (hashEmbedder) Dimension() int { return testDimension }

func (hashEmbedder) Close() error { return nil }

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

// newTestStack ingests a small corpus and returns a search service over it.
func newTestStack(t *testing.T) (*Service, registry.Registry) {
	t.Helper()
	ctx := context.Background()

	splitter, err := chunker.NewSplitter(chunker.Config{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)
	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{})
	require.NoError(t, err)
	reg := registry.NewMemoryRegistry()

	ingester, err := ingest.NewService(splitter, hashEmbedder{}, index, reg, vectorindex.MetricCosine, zap.NewNop())
	require.NoError(t, err)

	docs := map[string]map[string]string{
		"golang": {
			"goroutines.txt": "Goroutines are lightweight threads managed by the Go runtime.",
			"channels.txt":   "Channels connect goroutines and carry typed values between them.",
		},
		"python": {
			"gil.txt": "The global interpreter lock serializes Python bytecode execution.",
		},
	}
	for topic, files := range docs {
		for filename, text := range files {
			_, err := ingester.Ingest(ctx, ingest.Request{Topic: topic, Filename: filename, Text: text})
			require.NoError(t, err)
		}
	}

	svc, err := NewService(hashEmbedder{}, index, reg, zap.NewNop())
	require.NoError(t, err)
	return svc, reg
}

func TestSearch_ExactMatchRanksFirst(t *testing.T) {
	svc, _ := newTestStack(t)

	// Querying with a chunk's exact text embeds to the same vector, so it
	// must come back with the top similarity.
	results, err := svc.Search(context.Background(), "golang", "Goroutines are lightweight threads managed by the Go runtime.", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "goroutines.txt", results[0].Source)
	assert.Equal(t, "golang", results[0].Topic)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
}

func TestSearch_ScoresDescending(t *testing.T) {
	svc, _ := newTestStack(t)

	results, err := svc.Search(context.Background(), "golang", "concurrency in Go", 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(results), 2)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_UnknownTopic(t *testing.T) {
	svc, _ := newTestStack(t)

	_, err := svc.Search(context.Background(), "rust", "ownership", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorindex.ErrTopicNotFound)
}

func TestSearch_RegisteredButEmptyTopic(t *testing.T) {
	svc, reg := newTestStack(t)

	_, err := reg.GetOrCreate(context.Background(), "haskell", testDimension, "cosine")
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), "haskell", "monads", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, _ := newTestStack(t)

	_, err := svc.Search(context.Background(), "golang", "", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestSearch_DefaultTopK(t *testing.T) {
	svc, _ := newTestStack(t)

	results, err := svc.Search(context.Background(), "golang", "goroutines", 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), DefaultTopK)
	assert.NotEmpty(t, results)
}

func TestSearch_InvalidTopicName(t *testing.T) {
	svc, _ := newTestStack(t)

	_, err := svc.Search(context.Background(), "Not A Topic", "query", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorindex.ErrInvalidTopicName)
}

func TestSearchAll_MergesTopics(t *testing.T) {
	svc, _ := newTestStack(t)

	results, err := svc.Search(context.Background(), AllTopics, "threads and execution", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	topics := make(map[string]bool)
	for _, r := range results {
		topics[r.Topic] = true
	}
	assert.True(t, topics["golang"])
	assert.True(t, topics["python"])

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchAll_Direct(t *testing.T) {
	svc, _ := newTestStack(t)

	results, err := svc.SearchAll(context.Background(), "threads and execution", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	_, err = svc.SearchAll(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestSearchAll_CapsAtTopK(t *testing.T) {
	svc, _ := newTestStack(t)

	results, err := svc.Search(context.Background(), AllTopics, "anything at all", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
}

func TestSearchAll_SkipsUnindexedTopics(t *testing.T) {
	svc, reg := newTestStack(t)

	// A registered topic with no collection must not break the fan-out.
	_, err := reg.GetOrCreate(context.Background(), "haskell", testDimension, "cosine")
	require.NoError(t, err)

	results, err := svc.Search(context.Background(), AllTopics, "threads", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	index, err := vectorindex.NewChromemIndex(vectorindex.ChromemConfig{})
	require.NoError(t, err)
	reg := registry.NewMemoryRegistry()

	_, err = NewService(nil, index, reg, nil)
	assert.Error(t, err)

	_, err = NewService(hashEmbedder{}, nil, reg, nil)
	assert.Error(t, err)

	_, err = NewService(hashEmbedder{}, index, nil, nil)
	assert.Error(t, err)

	svc, err := NewService(hashEmbedder{}, index, reg, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
