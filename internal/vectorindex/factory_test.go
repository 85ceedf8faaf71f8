package vectorindex

import (
	"testing"

	"github.com/corpusworks/topicd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromemBackend(t *testing.T) {
	idx, err := New(config.IndexConfig{Backend: "chromem"})
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.IsType(t, &ChromemIndex{}, idx)
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(config.IndexConfig{Backend: "weaviate"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
