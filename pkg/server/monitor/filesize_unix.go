//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// allocatedSize returns the bytes allocated on disk, which is smaller than
// the logical size for sparse files such as badger's preallocated value logs.
func allocatedSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	// small files stored inline in the inode report no blocks
	if !ok || stat.Blocks == 0 {
		return info.Size(), nil
	}
	// st_blocks is always in 512-byte units
	return stat.Blocks * 512, nil
}
