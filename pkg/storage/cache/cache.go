package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/autonlab/auviewer/pkg/storage"
)

// CachedStorage wraps a storage with an LRU of decoded arrays.
// Only arrays are cached; metadata reads always go to the backend so
// manifests are never stale.
type CachedStorage struct {
	storage.Storage
	cache  *lru.Cache[string, storage.Array]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cached storage wrapper holding up to capacity arrays
func New(backend storage.Storage, capacity int) (*CachedStorage, error) {
	c, err := lru.New[string, storage.Array](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create array cache: %w", err)
	}
	return &CachedStorage{Storage: backend, cache: c}, nil
}

// ReadArray checks the cache before reading from the backend
func (cs *CachedStorage) ReadArray(ctx context.Context, path string) (storage.Array, error) {
	if arr, ok := cs.cache.Get(path); ok {
		cs.hits.Add(1)
		return copyArray(arr), nil
	}
	cs.misses.Add(1)

	arr, err := cs.Storage.ReadArray(ctx, path)
	if err != nil {
		return storage.Array{}, err
	}

	cs.cache.Add(path, arr)
	return copyArray(arr), nil
}

// WriteArray invalidates the cached copy and writes through
func (cs *CachedStorage) WriteArray(ctx context.Context, path string, arr storage.Array) error {
	cs.cache.Remove(path)
	return cs.Storage.WriteArray(ctx, path, arr)
}

// DeletePrefix invalidates every cached array under prefix
func (cs *CachedStorage) DeletePrefix(ctx context.Context, prefix string) error {
	for _, key := range cs.cache.Keys() {
		if storage.HasPrefix(key, prefix) {
			cs.cache.Remove(key)
		}
	}
	return cs.Storage.DeletePrefix(ctx, prefix)
}

// Close purges the cache and closes the backend
func (cs *CachedStorage) Close() error {
	cs.cache.Purge()
	return cs.Storage.Close()
}

// CacheStats returns current entry count, hits and misses
func (cs *CachedStorage) CacheStats() (size int, hits, misses uint64) {
	return cs.cache.Len(), cs.hits.Load(), cs.misses.Load()
}

// HitRate returns the cache hit rate as a percentage
func (cs *CachedStorage) HitRate() float64 {
	hits, misses := cs.hits.Load(), cs.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// Unwrap returns the backend storage
func (cs *CachedStorage) Unwrap() storage.Storage {
	return cs.Storage
}

func copyArray(arr storage.Array) storage.Array {
	return storage.Array{Width: arr.Width, Data: append([]float64(nil), arr.Data...)}
}
