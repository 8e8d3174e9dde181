//go:build windows

package monitor

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procCompressedFileSize = kernel32.NewProc("GetCompressedFileSizeW")
)

const invalidFileSize = 0xFFFFFFFF

// allocatedSize returns the bytes allocated on disk via GetCompressedFileSizeW,
// falling back to the logical size when the call fails.
func allocatedSize(path string, info os.FileInfo) (int64, error) {
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return info.Size(), nil
	}

	var high uint32
	low, _, _ := procCompressedFileSize.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&high)),
	)
	if low == invalidFileSize {
		return info.Size(), nil
	}
	return int64(high)<<32 | int64(low), nil
}
