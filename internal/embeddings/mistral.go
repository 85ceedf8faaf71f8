package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// mistralDimensions maps Mistral embedding models to their output size.
var mistralDimensions = map[string]int{
	"mistral-embed":   1024,
	"codestral-embed": 1536,
}

// MistralConfig holds configuration for the Mistral embeddings API client.
type MistralConfig struct {
	// BaseURL is the API base, e.g. https://api.mistral.ai/v1.
	BaseURL string

	// Model is the embedding model, e.g. mistral-embed.
	Model string

	// APIKey is the bearer token.
	APIKey string

	// MaxInputChars is the documented input limit per text. Zero disables
	// the client-side check.
	MaxInputChars int

	// Truncate cuts over-long inputs at MaxInputChars instead of failing.
	// Off by default: silent truncation is never implicit.
	Truncate bool

	// RequestsPerSecond rate-limits API calls. Zero disables limiting.
	RequestsPerSecond float64

	// Timeout bounds a single HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c MistralConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// MistralProvider generates embeddings via the Mistral embeddings API.
type MistralProvider struct {
	config    MistralConfig
	client    *http.Client
	limiter   *rate.Limiter
	dimension int
	metrics   *Metrics
}

// NewMistralProvider creates a Mistral API embedding provider.
func NewMistralProvider(cfg MistralConfig, logger *zap.Logger) (*MistralProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	// A typo'd model would otherwise pin a wrong dimension into every
	// collection it touches.
	dim, ok := mistralDimensions[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, cfg.Model)
	}

	return &MistralProvider{
		config:    cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   limiter,
		dimension: dim,
		metrics:   NewMetrics(logger),
	}, nil
}

// embedRequest is the request body for the /embeddings endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the response body from the /embeddings endpoint.
type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedDocuments generates embeddings for multiple texts in input order.
func (p *MistralProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	prepared, err := p.prepareInputs(texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}

	vectors, err := p.post(ctx, prepared)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *MistralProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	prepared, err := p.prepareInputs([]string{text})
	if err != nil {
		genErr = err
		return nil, genErr
	}

	vectors, err := p.post(ctx, prepared)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *MistralProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op for the HTTP client.
func (p *MistralProvider) Close() error {
	return nil
}

// prepareInputs enforces the model input limit. Truncation only happens when
// explicitly configured.
func (p *MistralProvider) prepareInputs(texts []string) ([]string, error) {
	if p.config.MaxInputChars <= 0 {
		return texts, nil
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		runes := []rune(text)
		if len(runes) <= p.config.MaxInputChars {
			prepared[i] = text
			continue
		}
		if !p.config.Truncate {
			return nil, fmt.Errorf("%w: input %d has %d chars, limit %d", ErrInputTooLong, i, len(runes), p.config.MaxInputChars)
		}
		prepared[i] = string(runes[:p.config.MaxInputChars])
	}
	return prepared, nil
}

func (p *MistralProvider) post(ctx context.Context, inputs []string) ([][]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(embedRequest{Model: p.config.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// The API is not contractually ordered; sort by index so output order
	// matches input order.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
