package embeddings

import (
	"fmt"

	"github.com/corpusworks/topicd/internal/config"
	"go.uber.org/zap"
)

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "mistral", "":
		return NewMistralProvider(MistralConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			APIKey:            cfg.APIKey.Value(),
			MaxInputChars:     cfg.MaxInputChars,
			Truncate:          cfg.Truncate,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
