package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(1024*1024*1024, "/tmp")
	if got := sm.GetLimit(); got != 1024*1024*1024 {
		t.Errorf("GetLimit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestStorageMonitor_GetUsageAcrossDirs(t *testing.T) {
	sources, processed := t.TempDir(), t.TempDir()

	if err := os.WriteFile(filepath.Join(sources, "a"), []byte("test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(processed, "p.auv"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(processed, "p.auv", "b"), []byte("more test data"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(1024*1024*1024, sources, processed)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	// allocated blocks are never smaller than the data written
	if usage < 23 {
		t.Errorf("GetUsage() = %d, want at least 23", usage)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(1024*1024*1024, tmpDir)

	usage1, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "late"), make([]byte, 64*1024), 0644); err != nil {
		t.Fatal(err)
	}

	usage2, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage1 != usage2 {
		t.Errorf("Cached values differ: %d != %d", usage1, usage2)
	}
}

func TestStorageMonitor_MissingDirIsEmpty(t *testing.T) {
	sm := NewStorageMonitor(1024, "/nonexistent/path/12345")
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage != 0 {
		t.Errorf("GetUsage() = %d, want 0", usage)
	}
}

func TestStorageMonitor_Check(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "big"), make([]byte, 8192), 0644); err != nil {
		t.Fatal(err)
	}

	if err := NewStorageMonitor(0, tmpDir).Check(); err != nil {
		t.Errorf("unlimited Check() = %v, want nil", err)
	}
	if err := NewStorageMonitor(1<<30, tmpDir).Check(); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
	if err := NewStorageMonitor(1, tmpDir).Check(); !errors.Is(err, ErrStorageFull) {
		t.Errorf("Check() = %v, want ErrStorageFull", err)
	}
}
