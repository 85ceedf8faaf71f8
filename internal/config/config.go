// Package config provides configuration loading for topicd.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for topicd.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Index     IndexConfig     `koanf:"index"`
	Registry  RegistryConfig  `koanf:"registry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ChunkingConfig holds text splitting settings. Sizes are in runes.
type ChunkingConfig struct {
	ChunkSize         int `koanf:"chunk_size"`
	ChunkOverlap      int `koanf:"chunk_overlap"`
	BoundaryTolerance int `koanf:"boundary_tolerance"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is "mistral" or "fastembed".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	// MaxInputChars is the model's documented input limit. Inputs over the
	// limit fail with ErrInputTooLong unless Truncate is set.
	MaxInputChars     int     `koanf:"max_input_chars"`
	Truncate          bool    `koanf:"truncate"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	CacheDir          string  `koanf:"cache_dir"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Backend is "qdrant" or "chromem".
	Backend  string `koanf:"backend"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	APIKey   Secret `koanf:"api_key"`
	UseTLS   bool   `koanf:"use_tls"`
	Distance string `koanf:"distance"`
	// Path is the chromem persistence directory (empty = in-memory).
	Path string `koanf:"path"`
}

// RegistryConfig holds metadata registry settings.
type RegistryConfig struct {
	// Backend is "mongo" or "memory".
	Backend  string `koanf:"backend"`
	URI      Secret `koanf:"uri"`
	Database string `koanf:"database"`
}

// NewDefaultConfig returns configuration with usable local defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8311,
			MaxUploadBytes:  32 * 1024 * 1024,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:          "mistral",
			Model:             "mistral-embed",
			BaseURL:           "https://api.mistral.ai/v1",
			MaxInputChars:     32000,
			RequestsPerSecond: 5,
		},
		Index: IndexConfig{
			Backend:  "qdrant",
			Host:     "localhost",
			Port:     6334,
			Distance: "cosine",
		},
		Registry: RegistryConfig{
			Backend:  "mongo",
			URI:      "mongodb://localhost:27017",
			Database: "topicd",
		},
	}
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	switch c.Embedding.Provider {
	case "mistral", "fastembed":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}
	switch c.Index.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("%w: unknown index backend %q", ErrInvalidConfig, c.Index.Backend)
	}
	switch c.Registry.Backend {
	case "mongo", "memory":
	default:
		return fmt.Errorf("%w: unknown registry backend %q", ErrInvalidConfig, c.Registry.Backend)
	}
	return nil
}
