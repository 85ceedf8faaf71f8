package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	rec, err := reg.GetOrCreate(ctx, "golang", 1024, "cosine")
	require.NoError(t, err)
	assert.Equal(t, "golang", rec.Name)
	assert.Equal(t, "golang", rec.Collection)
	assert.Equal(t, 1024, rec.Dimension)
	assert.Equal(t, "cosine", rec.Metric)
	assert.Zero(t, rec.ChunkCount)
	assert.False(t, rec.CreatedAt.IsZero())

	// Second call returns the existing record untouched.
	again, err := reg.GetOrCreate(ctx, "golang", 768, "euclid")
	require.NoError(t, err)
	assert.Equal(t, 1024, again.Dimension)
	assert.Equal(t, "cosine", again.Metric)
	assert.Equal(t, rec.CreatedAt, again.CreatedAt)
}

func TestMemoryRegistry_IncrementChunkCount(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	_, err := reg.GetOrCreate(ctx, "golang", 1024, "cosine")
	require.NoError(t, err)

	require.NoError(t, reg.IncrementChunkCount(ctx, "golang", 7))
	require.NoError(t, reg.IncrementChunkCount(ctx, "golang", 3))

	rec, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.ChunkCount)
}

func TestMemoryRegistry_IncrementChunkCount_UnknownTopic(t *testing.T) {
	reg := NewMemoryRegistry()

	err := reg.IncrementChunkCount(context.Background(), "missing", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestMemoryRegistry_Get_NotFound(t *testing.T) {
	reg := NewMemoryRegistry()

	_, err := reg.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestMemoryRegistry_List_SortedByName(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	for _, topic := range []string{"zig", "ada", "golang"} {
		_, err := reg.GetOrCreate(ctx, topic, 1024, "cosine")
		require.NoError(t, err)
	}

	records, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ada", records[0].Name)
	assert.Equal(t, "golang", records[1].Name)
	assert.Equal(t, "zig", records[2].Name)
}

func TestMemoryRegistry_List_Empty(t *testing.T) {
	records, err := NewMemoryRegistry().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryRegistry_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	rec, err := reg.GetOrCreate(ctx, "golang", 1024, "cosine")
	require.NoError(t, err)
	rec.ChunkCount = 999

	fresh, err := reg.Get(ctx, "golang")
	require.NoError(t, err)
	assert.Zero(t, fresh.ChunkCount)
}
