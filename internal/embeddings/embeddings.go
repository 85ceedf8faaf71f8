// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the model is unavailable or returned an
	// error.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInputTooLong indicates an input exceeds the model's maximum input
	// length. Truncation is never applied implicitly; it must be enabled in
	// configuration.
	ErrInputTooLong = errors.New("input exceeds model maximum length")
)

// Provider generates vector embeddings from text.
//
// The same text with the same model version yields the same vector. Batch
// output preserves input order.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the configured model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}
