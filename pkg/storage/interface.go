package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a path does not resolve in the store.
var ErrNotFound = errors.New("path not found")

// Storage defines the interface for array storage backends.
// Implementations: memory (testing), badger (production), cache (read-through wrapper)
type Storage interface {
	// WriteArray stores an array at path, replacing any previous array there
	WriteArray(ctx context.Context, path string, arr Array) error

	// ReadArray loads the full array stored at path
	ReadArray(ctx context.Context, path string) (Array, error)

	// StatArray returns row count and first/last rows without loading the array
	StatArray(ctx context.Context, path string) (*ArrayInfo, error)

	// WriteMeta stores a small metadata blob (schemas, manifests)
	WriteMeta(ctx context.Context, key string, data []byte) error

	// ReadMeta loads a metadata blob
	ReadMeta(ctx context.Context, key string) ([]byte, error)

	// List returns all array paths under prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every array and metadata blob under prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Array is a row-major table of float64 values with a fixed number of columns.
type Array struct {
	Width int
	Data  []float64
}

// NewArray builds an array from equal-length columns.
func NewArray(columns ...[]float64) Array {
	if len(columns) == 0 {
		return Array{}
	}
	width := len(columns)
	rows := len(columns[0])
	data := make([]float64, rows*width)
	for r := 0; r < rows; r++ {
		for c, col := range columns {
			data[r*width+c] = col[r]
		}
	}
	return Array{Width: width, Data: data}
}

// Rows returns the number of rows in the array
func (a Array) Rows() int {
	if a.Width == 0 {
		return 0
	}
	return len(a.Data) / a.Width
}

// Row returns row i as a slice into the array's data
func (a Array) Row(i int) []float64 {
	return a.Data[i*a.Width : (i+1)*a.Width]
}

// Column copies column c out of the array
func (a Array) Column(c int) []float64 {
	rows := a.Rows()
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = a.Data[r*a.Width+c]
	}
	return out
}

// ArrayInfo is the lightweight metadata kept next to every array.
type ArrayInfo struct {
	Rows  int       `json:"rows"`
	Width int       `json:"width"`
	First []float64 `json:"first,omitempty"`
	Last  []float64 `json:"last,omitempty"`
}

// InfoFor computes the metadata for an array
func InfoFor(arr Array) *ArrayInfo {
	info := &ArrayInfo{Rows: arr.Rows(), Width: arr.Width}
	if info.Rows > 0 {
		info.First = append([]float64(nil), arr.Row(0)...)
		info.Last = append([]float64(nil), arr.Row(info.Rows-1)...)
	}
	return info
}

// Stats provides storage health and usage info
type Stats struct {
	// Number of arrays stored
	Arrays uint64 `json:"arrays"`

	// Number of metadata blobs stored
	MetaKeys uint64 `json:"meta_keys"`

	// Total rows across all arrays
	TotalRows uint64 `json:"total_rows"`

	// Storage size in bytes (0 if the backend cannot tell)
	SizeBytes uint64 `json:"size_bytes"`
}

// Join builds a hierarchical path from its parts, dropping empty parts
// and surrounding slashes.
func Join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

// HasPrefix reports whether path lies under prefix in the hierarchy.
// An empty prefix matches everything.
func HasPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
