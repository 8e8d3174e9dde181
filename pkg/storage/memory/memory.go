package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/autonlab/auviewer/pkg/storage"
)

// Storage stores arrays in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	arrays map[string]storage.Array
	meta   map[string][]byte
	mu     sync.RWMutex

	// FailWrites makes WriteArray fail for paths containing the substring.
	// Tests use it to simulate a disk failing mid-build.
	FailWrites string
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		arrays: make(map[string]storage.Array),
		meta:   make(map[string][]byte),
	}
}

// WriteArray stores a copy of arr at path
func (s *Storage) WriteArray(ctx context.Context, path string, arr storage.Array) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return fmt.Errorf("empty array path")
	}
	if arr.Width <= 0 || len(arr.Data)%arr.Width != 0 {
		return fmt.Errorf("array %s: data length %d not a multiple of width %d", path, len(arr.Data), arr.Width)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites != "" && strings.Contains(path, s.FailWrites) {
		return fmt.Errorf("array %s: simulated write failure", path)
	}

	s.arrays[path] = storage.Array{Width: arr.Width, Data: append([]float64(nil), arr.Data...)}
	return nil
}

// ReadArray returns a copy of the array at path
func (s *Storage) ReadArray(ctx context.Context, path string) (storage.Array, error) {
	if err := ctx.Err(); err != nil {
		return storage.Array{}, err
	}
	path = strings.Trim(path, "/")

	s.mu.RLock()
	defer s.mu.RUnlock()

	arr, ok := s.arrays[path]
	if !ok {
		return storage.Array{}, fmt.Errorf("array %s: %w", path, storage.ErrNotFound)
	}
	return storage.Array{Width: arr.Width, Data: append([]float64(nil), arr.Data...)}, nil
}

// StatArray returns row count and first/last rows
func (s *Storage) StatArray(ctx context.Context, path string) (*storage.ArrayInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = strings.Trim(path, "/")

	s.mu.RLock()
	defer s.mu.RUnlock()

	arr, ok := s.arrays[path]
	if !ok {
		return nil, fmt.Errorf("array %s: %w", path, storage.ErrNotFound)
	}
	return storage.InfoFor(arr), nil
}

// WriteMeta stores a copy of data under key
func (s *Storage) WriteMeta(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta[strings.Trim(key, "/")] = append([]byte(nil), data...)
	return nil
}

// ReadMeta returns a copy of the blob under key
func (s *Storage) ReadMeta(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = strings.Trim(key, "/")

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.meta[key]
	if !ok {
		return nil, fmt.Errorf("meta %s: %w", key, storage.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// List returns sorted array paths under prefix
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for path := range s.arrays {
		if storage.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// DeletePrefix removes arrays and metadata under prefix
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for path := range s.arrays {
		if storage.HasPrefix(path, prefix) {
			delete(s.arrays, path)
		}
	}
	for key := range s.meta {
		if storage.HasPrefix(key, prefix) {
			delete(s.meta, key)
		}
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		Arrays:   uint64(len(s.arrays)),
		MetaKeys: uint64(len(s.meta)),
	}
	for _, arr := range s.arrays {
		stats.TotalRows += uint64(arr.Rows())
		stats.SizeBytes += uint64(len(arr.Data) * 8)
	}
	for _, data := range s.meta {
		stats.SizeBytes += uint64(len(data))
	}
	return stats, nil
}
