/*
Package storage provides the pluggable array store that holds raw series and
processed downsample levels.

# Storage Interface

The store is a hierarchical key-value store of named numeric arrays:
  - memory: In-memory storage for tests
  - badger: BadgerDB (LSM tree) with zstd-compressed chunks for files on disk
  - cache: Read-through LRU wrapper around any other backend

All backends implement the Storage interface:

	type Storage interface {
	    WriteArray(ctx context.Context, path string, arr Array) error
	    ReadArray(ctx context.Context, path string) (Array, error)
	    StatArray(ctx context.Context, path string) (*ArrayInfo, error)
	    WriteMeta(ctx context.Context, key string, data []byte) error
	    ReadMeta(ctx context.Context, key string) ([]byte, error)
	    List(ctx context.Context, prefix string) ([]string, error)
	    DeletePrefix(ctx context.Context, prefix string) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Paths

Paths are slash-separated, e.g. "vitals/hr/time". A raw series is two arrays
(time column and value column) under the same group. A processed level is one
array with four columns (time, min, max, count) at "<series>/<staging>/<level>".

# Array Metadata

Every array carries an ArrayInfo (row count, width, first and last row) that is
stored separately from the data. StatArray answers from that record only, so
callers can plan work (point counts, timespans) without pulling a whole series
into memory.

# Visibility

WriteArray is not atomic across chunks. Writers that need all-or-nothing
visibility stage arrays under a fresh prefix and publish them with a single
WriteMeta call; readers follow the metadata, never the raw listing.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data/file.db"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.WriteArray(ctx, "vitals/hr/value", storage.NewArray(values))
	info, err := store.StatArray(ctx, "vitals/hr/value")
	fmt.Println(info.Rows)
*/
package storage
