package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrStorageFull is returned by Check once usage reaches the limit.
var ErrStorageFull = errors.New("storage limit reached")

const usageCacheDuration = 10 * time.Second

// StorageMonitor tracks disk usage of the source and processed directories.
// Usage is cached for a few seconds since walking badger directories is slow.
type StorageMonitor struct {
	dirs          []string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor over dirs. maxBytes <= 0 means unlimited.
func NewStorageMonitor(maxBytes int64, dirs ...string) *StorageMonitor {
	return &StorageMonitor{
		dirs:          dirs,
		maxBytes:      maxBytes,
		cacheDuration: usageCacheDuration,
	}
}

// GetUsage returns the bytes allocated under every monitored directory.
// Directories that do not exist yet count as empty.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	var total int64
	for _, dir := range sm.dirs {
		size, err := dirSize(dir)
		if err != nil {
			return 0, fmt.Errorf("measure %s: %w", dir, err)
		}
		total += size
	}

	sm.cachedUsage = total
	sm.lastCheck = time.Now()
	return total, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Check returns ErrStorageFull when usage has reached the limit.
func (sm *StorageMonitor) Check() error {
	if sm.maxBytes <= 0 {
		return nil
	}
	used, err := sm.GetUsage()
	if err != nil {
		return err
	}
	if used >= sm.maxBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, used, sm.maxBytes)
	}
	return nil
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed mid-walk, e.g. a badger table compacted away
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if n, err := allocatedSize(path, info); err == nil {
			size += n
		} else {
			size += info.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	return size, nil
}
