// Package container opens source stores and their processed counterparts.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/downsample"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/raw"
	"github.com/autonlab/auviewer/pkg/series"
	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/badger"
	"github.com/autonlab/auviewer/pkg/storage/cache"
	"github.com/autonlab/auviewer/pkg/storage/memory"
)

// Options configures how stores are opened and series are served.
type Options struct {
	MaxMemoryMB      int64
	CompressionLevel int
	CacheEntries     int // decoded level arrays cached per processed store
	MaxRawPoints     int
	Hierarchy        downsample.Options
	Logger           *zap.Logger
}

// File is an open source container with an optional processed store.
type File struct {
	name     string
	source   storage.Storage
	schema   *Schema
	index    map[string]raw.Series
	accessor *raw.Accessor
	opts     Options
	logger   *zap.Logger

	mu            sync.RWMutex
	processed     storage.Storage
	processedPath string
	owned         bool // stores were opened by this File and are closed with it
}

// Open opens the source store at sourcePath read-only, and the processed
// store at processedPath if it exists.
func Open(ctx context.Context, name, sourcePath, processedPath string, opts Options) (*File, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source %s: %w", sourcePath, storage.ErrNotFound)
		}
		return nil, err
	}

	source, err := badger.New(badger.Config{
		Path:        sourcePath,
		ReadOnly:    true,
		MaxMemoryMB: opts.MaxMemoryMB,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", sourcePath, err)
	}

	f, err := New(ctx, name, source, nil, opts)
	if err != nil {
		source.Close()
		return nil, err
	}
	f.owned = true
	f.processedPath = processedPath

	if err := f.AttachProcessed(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// New wraps already-open stores. processed may be nil, in which case every
// series serves raw data. The caller keeps ownership of both stores.
func New(ctx context.Context, name string, source, processed storage.Storage, opts Options) (*File, error) {
	schema, err := ReadSchema(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", name, err)
	}

	index := make(map[string]raw.Series, len(schema.Series))
	for _, s := range schema.Series {
		index[s.ID] = s
	}

	logger := logging.OrNop(opts.Logger).With(zap.String("file", name))
	opts.Hierarchy.Logger = logger

	return &File{
		name:      name,
		source:    source,
		schema:    schema,
		index:     index,
		accessor:  raw.NewAccessor(source, opts.MaxRawPoints),
		opts:      opts,
		logger:    logger,
		processed: processed,
	}, nil
}

// AttachProcessed opens the processed store if it has appeared since the
// file was opened. It is a no-op when already attached or still missing.
func (f *File) AttachProcessed() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.processed != nil || f.processedPath == "" {
		return nil
	}
	if _, err := os.Stat(f.processedPath); os.IsNotExist(err) {
		return nil
	}

	store, err := badger.New(badger.Config{
		Path:        f.processedPath,
		ReadOnly:    true,
		MaxMemoryMB: f.opts.MaxMemoryMB,
		Logger:      f.opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("open processed %s: %w", f.processedPath, err)
	}

	var processed storage.Storage = store
	if f.opts.CacheEntries > 0 {
		cached, err := cache.New(store, f.opts.CacheEntries)
		if err != nil {
			store.Close()
			return err
		}
		processed = cached
	}

	f.processed = processed
	f.logger.Info("attached processed store", zap.String("path", f.processedPath))
	return nil
}

// CacheStats reports level cache activity.
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CacheStats returns the counters of the processed store's level cache.
// ok is false when no cached processed store is attached.
func (f *File) CacheStats() (stats CacheStats, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cs, ok := f.processed.(*cache.CachedStorage)
	if !ok {
		return CacheStats{}, false
	}
	stats.Entries, stats.Hits, stats.Misses = cs.CacheStats()
	stats.HitRate = cs.HitRate()
	return stats, true
}

// Name returns the file name
func (f *File) Name() string {
	return f.name
}

// Source returns the source store
func (f *File) Source() storage.Storage {
	return f.source
}

// Series returns every series in schema order
func (f *File) Series() []raw.Series {
	return append([]raw.Series(nil), f.schema.Series...)
}

// Lookup finds a series by id
func (f *File) Lookup(id string) (raw.Series, bool) {
	s, ok := f.index[id]
	return s, ok
}

// Processed reports whether a processed store is attached
func (f *File) Processed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.processed != nil
}

// Coordinator returns a coordinator for series id, reading levels from the
// processed store when attached.
func (f *File) Coordinator(id string) (*series.Coordinator, error) {
	s, ok := f.index[id]
	if !ok {
		return nil, fmt.Errorf("series %s in file %s: %w", id, f.name, storage.ErrNotFound)
	}

	f.mu.RLock()
	processed := f.processed
	f.mu.RUnlock()
	if processed == nil {
		// nothing built yet: an empty store yields zero levels
		processed = memory.New()
	}

	return f.coordinatorOn(s, processed), nil
}

// CoordinatorOn returns a coordinator whose levels live in processed.
// Processing uses it to build into a store other than the attached one.
func (f *File) CoordinatorOn(id string, processed storage.Storage) (*series.Coordinator, error) {
	s, ok := f.index[id]
	if !ok {
		return nil, fmt.Errorf("series %s in file %s: %w", id, f.name, storage.ErrNotFound)
	}
	return f.coordinatorOn(s, processed), nil
}

func (f *File) coordinatorOn(s raw.Series, processed storage.Storage) *series.Coordinator {
	h := downsample.NewHierarchy(processed, s.ID, f.opts.Hierarchy)
	return series.NewCoordinator(s, f.accessor, h, f.logger)
}

// SeriesInfo summarizes a series from metadata only.
type SeriesInfo struct {
	raw.Series
	Points   int     `json:"points"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Timespan float64 `json:"timespan"`
	Levels   int     `json:"levels"`
}

// Describe reports point counts, bounds and level counts for every series.
func (f *File) Describe(ctx context.Context) ([]SeriesInfo, error) {
	f.mu.RLock()
	processed := f.processed
	f.mu.RUnlock()

	infos := make([]SeriesInfo, 0, len(f.schema.Series))
	for _, s := range f.schema.Series {
		info := SeriesInfo{Series: s}

		n, err := f.accessor.PointCount(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.ID, err)
		}
		info.Points = n

		info.Start, info.End, err = f.accessor.Bounds(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.ID, err)
		}
		info.Timespan = info.End - info.Start

		if processed != nil {
			info.Levels = downsample.NewHierarchy(processed, s.ID, f.opts.Hierarchy).LevelCount(ctx)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Close releases stores opened by Open
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.owned {
		return nil
	}

	var errs []error
	if f.processed != nil {
		errs = append(errs, f.processed.Close())
		f.processed = nil
	}
	errs = append(errs, f.source.Close())
	return errors.Join(errs...)
}
