package vectorindex

import (
	"fmt"

	"github.com/corpusworks/topicd/internal/config"
)

// New creates an Index from configuration.
func New(cfg config.IndexConfig) (Index, error) {
	switch cfg.Backend {
	case "qdrant", "":
		return NewQdrantIndex(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey.Value(),
			UseTLS: cfg.UseTLS,
		})
	case "chromem":
		return NewChromemIndex(ChromemConfig{Path: cfg.Path})
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
