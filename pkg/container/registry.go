package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/storage"
)

// Registry opens files under a data directory on demand and keeps them open
// until Close. Processed stores live in a separate directory as <name>.auv.
type Registry struct {
	dataDir      string
	processedDir string
	opts         Options

	mu    sync.Mutex
	files map[string]*File
}

// NewRegistry creates a registry. Nothing is opened until Get.
func NewRegistry(dataDir, processedDir string, opts Options) *Registry {
	return &Registry{
		dataDir:      dataDir,
		processedDir: processedDir,
		opts:         opts,
		files:        make(map[string]*File),
	}
}

// SourcePath returns the source store directory of name
func (r *Registry) SourcePath(name string) string {
	return filepath.Join(r.dataDir, name)
}

// ProcessedPath returns the processed store directory of name
func (r *Registry) ProcessedPath(name string) string {
	return filepath.Join(r.processedDir, name+config.ProcessedSuffix)
}

// Options returns the options files are opened with
func (r *Registry) Options() Options {
	return r.opts
}

// Names lists source containers in the data directory
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	processedAbs, _ := filepath.Abs(r.processedDir)
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), config.PartialSuffix) {
			continue
		}
		if abs, _ := filepath.Abs(filepath.Join(r.dataDir, e.Name())); abs == processedAbs {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Pending lists files that have no processed store yet
func (r *Registry) Pending() ([]string, error) {
	names, err := r.Names()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, name := range names {
		if _, err := os.Stat(r.ProcessedPath(name)); os.IsNotExist(err) {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Get returns the open file called name, opening it on first use. A
// processed store that appeared since the last call is attached.
func (r *Registry) Get(ctx context.Context, name string) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[name]; ok {
		if err := f.AttachProcessed(); err != nil {
			return nil, err
		}
		return f, nil
	}

	f, err := Open(ctx, name, r.SourcePath(name), r.ProcessedPath(name), r.opts)
	if err != nil {
		return nil, err
	}
	r.files[name] = f
	return f, nil
}

// CacheStats sums the level cache counters of every open file.
func (r *Registry) CacheStats() CacheStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total CacheStats
	for _, f := range r.files {
		stats, ok := f.CacheStats()
		if !ok {
			continue
		}
		total.Entries += stats.Entries
		total.Hits += stats.Hits
		total.Misses += stats.Misses
	}
	if lookups := total.Hits + total.Misses; lookups > 0 {
		total.HitRate = float64(total.Hits) / float64(lookups) * 100.0
	}
	return total
}

// Close closes every open file
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, f := range r.files {
		errs = append(errs, f.Close())
		delete(r.files, name)
	}
	return errors.Join(errs...)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file name %q: %w", name, storage.ErrNotFound)
	}
	return nil
}
