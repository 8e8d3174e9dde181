package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/storage"
)

func sequence(n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * scale
	}
	return out
}

func TestBadgerStorage_WriteAndRead(t *testing.T) {
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true, ChunkRows: 4})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	arr := storage.NewArray(sequence(10, 1), sequence(10, 0.5))

	if err := store.WriteArray(ctx, "vitals/hr", arr); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := store.ReadArray(ctx, "vitals/hr")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	assert.Equal(t, arr.Width, got.Width)
	assert.Equal(t, arr.Data, got.Data)
}

func TestBadgerStorage_StatWithoutRead(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.WriteArray(ctx, "g/time", storage.NewArray([]float64{5, 6, 9})))

	info, err := store.StatArray(ctx, "g/time")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Rows)
	assert.Equal(t, []float64{5}, info.First)
	assert.Equal(t, []float64{9}, info.Last)
}

func TestBadgerStorage_OverwriteShrinks(t *testing.T) {
	store, err := New(Config{InMemory: true, ChunkRows: 3})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.WriteArray(ctx, "a", storage.NewArray(sequence(10, 1))))
	require.NoError(t, store.WriteArray(ctx, "a", storage.NewArray(sequence(2, 7))))

	got, err := store.ReadArray(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 7}, got.Data)
}

func TestBadgerStorage_NotFound(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.ReadArray(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.StatArray(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.ReadMeta(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestBadgerStorage_ListAndDeletePrefix(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	one := storage.NewArray([]float64{1})
	for _, p := range []string{"s/a/0", "s/a/1", "s/ab/0", "t/0"} {
		require.NoError(t, store.WriteArray(ctx, p, one))
	}
	require.NoError(t, store.WriteMeta(ctx, "s/a/manifest", []byte(`{}`)))

	paths, err := store.List(ctx, "s/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/a/0", "s/a/1"}, paths)

	require.NoError(t, store.DeletePrefix(ctx, "s/a"))

	paths, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/ab/0", "t/0"}, paths)

	_, err = store.ReadMeta(ctx, "s/a/manifest")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestBadgerStorage_Persistence(t *testing.T) {
	// Use temp directory for persistence test
	tmpDir := t.TempDir()
	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if err := store.WriteArray(ctx, "series/value", storage.NewArray(sequence(20000, 0.25))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := store.WriteMeta(ctx, "schema", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("WriteMeta failed: %v", err)
		}
		store.Close()
	}

	// Read from second instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		got, err := store.ReadArray(ctx, "series/value")
		require.NoError(t, err)
		assert.Equal(t, 20000, got.Rows())
		assert.Equal(t, 0.25*19999, got.Data[19999])

		meta, err := store.ReadMeta(ctx, "schema")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(meta))
	}
}

func TestBadgerStorage_ContextCancelled(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.WriteArray(ctx, "a", storage.NewArray([]float64{1}))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.ReadArray(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStorage_Stats(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.WriteArray(ctx, "a", storage.NewArray(sequence(5, 1))))
	require.NoError(t, store.WriteArray(ctx, "b", storage.NewArray(sequence(3, 1), sequence(3, 1))))
	require.NoError(t, store.WriteMeta(ctx, "m", []byte("x")))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Arrays)
	assert.Equal(t, uint64(1), stats.MetaKeys)
	assert.Equal(t, uint64(8), stats.TotalRows)
}

func TestChunkKey_DistinctPerPathAndIndex(t *testing.T) {
	assert.NotEqual(t, chunkKey("a", 0), chunkKey("a", 1))
	assert.NotEqual(t, chunkKey("a", 0), chunkKey("b", 0))
	assert.Len(t, chunkKey("a", 0), len(chunkPrefix)+12)
}

func TestBadgerStorage_ReadOnlyHandlesShareDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	writer, err := New(Config{Path: tmpDir})
	require.NoError(t, err)
	require.NoError(t, writer.WriteArray(ctx, "g/time", storage.NewArray([]float64{1, 2, 3})))
	require.NoError(t, writer.Close())

	first, err := New(Config{Path: tmpDir, ReadOnly: true})
	require.NoError(t, err)
	defer first.Close()
	second, err := New(Config{Path: tmpDir, ReadOnly: true})
	require.NoError(t, err)
	defer second.Close()

	info, err := second.StatArray(ctx, "g/time")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Rows)
	assert.NoError(t, first.RunGC(0.5))
}
