package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/storage"
)

const (
	headerPrefix = "h/"
	chunkPrefix  = "c/"
	metaPrefix   = "m/"

	// DefaultChunkRows is the number of rows stored per badger value
	DefaultChunkRows = 8192
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db         *badger.DB
	compressor *storage.Compressor
	chunkRows  int
	readOnly   bool
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// ReadOnly opens an existing database without taking the write lock.
	// Several read-only handles may share a directory.
	ReadOnly bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	MaxMemoryMB int64

	// CompressionLevel for array chunks, 1 (fastest) to 4 (smallest)
	CompressionLevel int

	// ChunkRows overrides DefaultChunkRows (mainly for tests)
	ChunkRows int

	// Logger receives badger's internal logs (nil = discard)
	Logger *zap.Logger
}

// header is the per-array record stored under h/<path>
type header struct {
	storage.ArrayInfo
	Chunks    int `json:"chunks"`
	ChunkRows int `json:"chunk_rows"`
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	} else if cfg.ReadOnly {
		opts = opts.WithReadOnly(true)
	}

	// Chunks are zstd-compressed before they reach badger, so block
	// compression would only burn CPU.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.None).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20).
		WithLogger(newLogger(cfg.Logger))

	level := cfg.CompressionLevel
	if level == 0 {
		level = 2
	}
	compressor, err := storage.NewCompressor(level)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	chunkRows := cfg.ChunkRows
	if chunkRows <= 0 {
		chunkRows = DefaultChunkRows
	}

	return &Storage{db: db, compressor: compressor, chunkRows: chunkRows, readOnly: cfg.ReadOnly && !cfg.InMemory}, nil
}

// WriteArray stores an array as compressed chunks followed by its header.
// The header is written last and removed first, so a reader never sees a
// header whose chunks are missing.
func (s *Storage) WriteArray(ctx context.Context, path string, arr storage.Array) error {
	path = strings.Trim(path, "/")
	if path == "" {
		return fmt.Errorf("empty array path")
	}
	if arr.Width <= 0 || len(arr.Data)%arr.Width != 0 {
		return fmt.Errorf("array %s: data length %d not a multiple of width %d", path, len(arr.Data), arr.Width)
	}

	return s.run(ctx, "write", func() error {
		old, err := s.readHeader(path)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		rows := arr.Rows()
		chunks := (rows + s.chunkRows - 1) / s.chunkRows

		if old != nil {
			if err := s.db.Update(func(txn *badger.Txn) error {
				return txn.Delete(headerKey(path))
			}); err != nil {
				return fmt.Errorf("failed to drop old header: %w", err)
			}
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		if old != nil {
			for i := chunks; i < old.Chunks; i++ {
				if err := wb.Delete(chunkKey(path, i)); err != nil {
					return fmt.Errorf("failed to drop stale chunk: %w", err)
				}
			}
		}

		for i := 0; i < chunks; i++ {
			// Check context periodically
			if i%16 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			lo := i * s.chunkRows * arr.Width
			hi := lo + s.chunkRows*arr.Width
			if hi > len(arr.Data) {
				hi = len(arr.Data)
			}
			if err := wb.Set(chunkKey(path, i), s.compressor.EncodeFloats(arr.Data[lo:hi])); err != nil {
				return fmt.Errorf("failed to write chunk %d: %w", i, err)
			}
		}

		if err := wb.Flush(); err != nil {
			return fmt.Errorf("failed to flush chunks: %w", err)
		}

		h := header{ArrayInfo: *storage.InfoFor(arr), Chunks: chunks, ChunkRows: s.chunkRows}
		value, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to encode header: %w", err)
		}

		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(headerKey(path), value)
		})
	})
}

// ReadArray loads and decompresses every chunk of an array in one snapshot
func (s *Storage) ReadArray(ctx context.Context, path string) (storage.Array, error) {
	path = strings.Trim(path, "/")
	var arr storage.Array

	err := s.run(ctx, "read", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			h, err := getHeader(txn, path)
			if err != nil {
				return err
			}

			data := make([]float64, 0, h.Rows*h.Width)
			remaining := h.Rows
			for i := 0; i < h.Chunks; i++ {
				if i%16 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				item, err := txn.Get(chunkKey(path, i))
				if err != nil {
					if errors.Is(err, badger.ErrKeyNotFound) {
						return fmt.Errorf("array %s chunk %d: %w", path, i, storage.ErrNotFound)
					}
					return err
				}

				rows := remaining
				if rows > h.ChunkRows {
					rows = h.ChunkRows
				}

				err = item.Value(func(val []byte) error {
					values, err := s.compressor.DecodeFloats(val, rows*h.Width)
					if err != nil {
						return fmt.Errorf("array %s chunk %d: %w", path, i, err)
					}
					data = append(data, values...)
					return nil
				})
				if err != nil {
					return err
				}
				remaining -= rows
			}

			arr = storage.Array{Width: h.Width, Data: data}
			return nil
		})
	})
	if err != nil {
		return storage.Array{}, err
	}

	return arr, nil
}

// StatArray returns the stored header without touching chunk data
func (s *Storage) StatArray(ctx context.Context, path string) (*storage.ArrayInfo, error) {
	path = strings.Trim(path, "/")
	var info *storage.ArrayInfo

	err := s.run(ctx, "stat", func() error {
		h, err := s.readHeader(path)
		if err != nil {
			return err
		}
		info = &h.ArrayInfo
		return nil
	})

	return info, err
}

// WriteMeta stores a metadata blob in a single transaction
func (s *Storage) WriteMeta(ctx context.Context, key string, data []byte) error {
	key = strings.Trim(key, "/")
	return s.run(ctx, "write meta", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(metaPrefix+key), data)
		})
	})
}

// ReadMeta loads a metadata blob
func (s *Storage) ReadMeta(ctx context.Context, key string) ([]byte, error) {
	key = strings.Trim(key, "/")
	var data []byte

	err := s.run(ctx, "read meta", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(metaPrefix + key))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("meta %s: %w", key, storage.ErrNotFound)
				}
				return err
			}
			data, err = item.ValueCopy(nil)
			return err
		})
	})

	return data, err
}

// List returns array paths under prefix. Badger iterates keys in order, so
// the result is sorted.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	var paths []string

	err := s.run(ctx, "list", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(headerPrefix + prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				path := string(it.Item().Key()[len(headerPrefix):])
				if storage.HasPrefix(path, prefix) {
					paths = append(paths, path)
				}
			}
			return nil
		})
	})

	return paths, err
}

// DeletePrefix removes every array (header and chunks) and metadata blob under prefix
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.Trim(prefix, "/")

	return s.run(ctx, "delete", func() error {
		var keysToDelete [][]byte

		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(headerPrefix + prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				path := string(item.Key()[len(headerPrefix):])
				if !storage.HasPrefix(path, prefix) {
					continue
				}

				var h header
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &h)
				}); err != nil {
					return fmt.Errorf("failed to decode header for %s: %w", path, err)
				}

				keysToDelete = append(keysToDelete, item.KeyCopy(nil))
				for i := 0; i < h.Chunks; i++ {
					keysToDelete = append(keysToDelete, chunkKey(path, i))
				}
			}

			metaOpts := badger.DefaultIteratorOptions
			metaOpts.PrefetchValues = false
			metaOpts.Prefix = []byte(metaPrefix + prefix)

			mit := txn.NewIterator(metaOpts)
			defer mit.Close()

			for mit.Rewind(); mit.Valid(); mit.Next() {
				key := string(mit.Item().Key()[len(metaPrefix):])
				if storage.HasPrefix(key, prefix) {
					keysToDelete = append(keysToDelete, mit.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		if len(keysToDelete) == 0 {
			return nil
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		return wb.Flush()
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	s.compressor.Close()
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	if s.readOnly {
		return nil
	}
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(headerPrefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				var h header
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &h)
				}); err != nil {
					return err
				}
				stats.Arrays++
				stats.TotalRows += uint64(h.Rows)
			}

			metaOpts := badger.DefaultIteratorOptions
			metaOpts.PrefetchValues = false
			metaOpts.Prefix = []byte(metaPrefix)

			mit := txn.NewIterator(metaOpts)
			defer mit.Close()
			for mit.Rewind(); mit.Valid(); mit.Next() {
				stats.MetaKeys++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// run executes fn on its own goroutine so a cancelled context releases the
// caller even if badger is blocked on disk.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

func (s *Storage) readHeader(path string) (*header, error) {
	var h *header
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		h, err = getHeader(txn, path)
		return err
	})
	return h, err
}

func getHeader(txn *badger.Txn, path string) (*header, error) {
	item, err := txn.Get(headerKey(path))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("array %s: %w", path, storage.ErrNotFound)
		}
		return nil, err
	}

	var h header
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &h)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode header for %s: %w", path, err)
	}
	return &h, nil
}

func headerKey(path string) []byte {
	return []byte(headerPrefix + path)
}

// chunkKey creates a sortable key: prefix + path_hash + chunk index
// Format: c/[path_hash (8 bytes)][chunk (4 bytes)]
func chunkKey(path string, chunk int) []byte {
	key := make([]byte, len(chunkPrefix)+12)
	copy(key, chunkPrefix)
	binary.BigEndian.PutUint64(key[len(chunkPrefix):], xxhash.Sum64String(path))
	binary.BigEndian.PutUint32(key[len(chunkPrefix)+8:], uint32(chunk))
	return key
}
