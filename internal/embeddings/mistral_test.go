package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEmbedServer serves a Mistral-shaped /embeddings endpoint that returns
// one small vector per input, deliberately out of index order.
func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Index: i, Embedding: []float32{float32(i), float32(len(req.Input[i]))}}
		}
		// Reverse so the client has to restore input order.
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func newTestProvider(t *testing.T, mutate func(*MistralConfig)) (*MistralProvider, *httptest.Server) {
	t.Helper()
	srv := newEmbedServer(t)
	t.Cleanup(srv.Close)

	cfg := MistralConfig{BaseURL: srv.URL, Model: "mistral-embed", APIKey: "test-key"}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewMistralProvider(cfg, nil)
	require.NoError(t, err)
	return p, srv
}

func TestMistralConfigValidate(t *testing.T) {
	assert.ErrorIs(t, MistralConfig{Model: "m"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, MistralConfig{BaseURL: "http://x"}.Validate(), ErrInvalidConfig)
	assert.NoError(t, MistralConfig{BaseURL: "http://x", Model: "m"}.Validate())
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	p, _ := newTestProvider(t, nil)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// index i encoded into the first component by the fake server
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	_, err := p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQuery(t *testing.T) {
	p, _ := newTestProvider(t, nil)

	vec, err := p.EmbedQuery(context.Background(), "what is a goroutine")
	require.NoError(t, err)
	assert.NotEmpty(t, vec)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestInputTooLongWithoutTruncate(t *testing.T) {
	p, _ := newTestProvider(t, func(c *MistralConfig) { c.MaxInputChars = 10 })

	_, err := p.EmbedDocuments(context.Background(), []string{strings.Repeat("x", 11)})
	assert.ErrorIs(t, err, ErrInputTooLong)
}

func TestInputTruncatedWhenConfigured(t *testing.T) {
	p, _ := newTestProvider(t, func(c *MistralConfig) {
		c.MaxInputChars = 10
		c.Truncate = true
	})

	vectors, err := p.EmbedDocuments(context.Background(), []string{strings.Repeat("x", 50)})
	require.NoError(t, err)
	// The fake server encodes input length into the second component.
	assert.Equal(t, float32(10), vectors[0][1])
}

func TestModelUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, err := NewMistralProvider(MistralConfig{BaseURL: srv.URL, Model: "mistral-embed"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	_, err = p.EmbedQuery(context.Background(), "a")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestDimensionForKnownModels(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	assert.Equal(t, 1024, p.Dimension())

	p2, _ := newTestProvider(t, func(c *MistralConfig) { c.Model = "codestral-embed" })
	assert.Equal(t, 1536, p2.Dimension())
}

func TestUnknownModelRejected(t *testing.T) {
	_, err := NewMistralProvider(MistralConfig{BaseURL: "http://x", Model: "mistral-embed-typo"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
