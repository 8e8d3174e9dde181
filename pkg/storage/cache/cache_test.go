package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/memory"
)

func TestCachedStorage_HitsAfterFirstRead(t *testing.T) {
	backend := memory.New()
	cs, err := New(backend, 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cs.WriteArray(ctx, "a", storage.NewArray([]float64{1, 2})))

	_, err = cs.ReadArray(ctx, "a")
	require.NoError(t, err)
	_, err = cs.ReadArray(ctx, "a")
	require.NoError(t, err)

	size, hits, misses := cs.CacheStats()
	assert.Equal(t, 1, size)
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.InDelta(t, 50.0, cs.HitRate(), 1e-9)
}

func TestCachedStorage_WriteInvalidates(t *testing.T) {
	cs, err := New(memory.New(), 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cs.WriteArray(ctx, "a", storage.NewArray([]float64{1})))
	_, err = cs.ReadArray(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, cs.WriteArray(ctx, "a", storage.NewArray([]float64{2})))
	got, err := cs.ReadArray(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got.Data)
}

func TestCachedStorage_DeletePrefixInvalidates(t *testing.T) {
	cs, err := New(memory.New(), 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cs.WriteArray(ctx, "s/0", storage.NewArray([]float64{1})))
	_, err = cs.ReadArray(ctx, "s/0")
	require.NoError(t, err)

	require.NoError(t, cs.DeletePrefix(ctx, "s"))

	_, err = cs.ReadArray(ctx, "s/0")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCachedStorage_ReturnsCopies(t *testing.T) {
	cs, err := New(memory.New(), 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cs.WriteArray(ctx, "a", storage.NewArray([]float64{1})))

	first, _ := cs.ReadArray(ctx, "a")
	first.Data[0] = 42

	second, _ := cs.ReadArray(ctx, "a")
	assert.Equal(t, 1.0, second.Data[0])
}
