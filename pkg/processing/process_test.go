package processing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/downsample"
	"github.com/autonlab/auviewer/pkg/raw"
	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/badger"
)

var testOpts = container.Options{Hierarchy: downsample.Options{IntervalCount: 10, StepMultiplier: 4}}

// makeSource writes a source container with hr and a broken series
func makeSource(t *testing.T, path string, n int) {
	t.Helper()
	ctx := context.Background()

	store, err := badger.New(badger.Config{Path: path})
	require.NoError(t, err)
	defer store.Close()

	times := make([]float64, n)
	hr := make([]float64, n)
	for i := range times {
		times[i] = float64(i)
		hr[i] = float64(i % 13)
	}
	require.NoError(t, store.WriteArray(ctx, "vitals/time", storage.NewArray(times)))
	require.NoError(t, store.WriteArray(ctx, "vitals/hr", storage.NewArray(hr)))
	require.NoError(t, container.WriteSchema(ctx, store, &container.Schema{Series: []raw.Series{
		{ID: "vitals/hr", TimePath: "vitals/time", ValuePath: "vitals/hr"},
		{ID: "vitals/rr", TimePath: "vitals/time", ValuePath: "vitals/rr"},
	}}))
}

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	store, err := badger.New(badger.Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer store.Close()

	data, err := store.ReadMeta(context.Background(), statusKey)
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
	return status
}

func TestProcessFile_BuildsAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "patient-1")
	dst := filepath.Join(root, "patient-1.auv")
	makeSource(t, src, 1001)

	ctx := context.Background()
	res, err := ProcessFile(ctx, "patient-1", src, dst, testOpts)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Series)
	assert.Equal(t, 3, res.Levels)
	assert.Equal(t, []string{"vitals/rr"}, res.Failed)

	assert.DirExists(t, dst)
	assert.NoDirExists(t, dst+".partial")

	status := readStatus(t, dst)
	assert.Equal(t, 3, status.Levels)
	assert.Equal(t, []string{"vitals/rr"}, status.Failed)

	again, err := ProcessFile(ctx, "patient-1", src, dst, testOpts)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
}

func TestProcessFile_RemovesStalePartial(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "patient-1")
	dst := filepath.Join(root, "patient-1.auv")
	makeSource(t, src, 200)

	partial := dst + ".partial"
	require.NoError(t, os.MkdirAll(partial, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(partial, "junk"), []byte("x"), 0o644))

	_, err := ProcessFile(context.Background(), "patient-1", src, dst, testOpts)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dst, "junk"))
	assert.NoDirExists(t, partial)
}

func TestProcessFile_CancelledLeavesNothing(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "patient-1")
	dst := filepath.Join(root, "patient-1.auv")
	makeSource(t, src, 200)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ProcessFile(ctx, "patient-1", src, dst, testOpts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, dst)
	assert.NoDirExists(t, dst+".partial")
}

func TestProcessFile_MissingSource(t *testing.T) {
	root := t.TempDir()
	_, err := ProcessFile(context.Background(), "ghost", filepath.Join(root, "ghost"), filepath.Join(root, "ghost.auv"), testOpts)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPool_RunsJobsIndependently(t *testing.T) {
	root := t.TempDir()
	var jobs []Job
	for _, name := range []string{"a", "b", "c"} {
		src := filepath.Join(root, name)
		makeSource(t, src, 300)
		jobs = append(jobs, Job{Name: name, Source: src, Destination: src + ".auv"})
	}
	jobs = append(jobs, Job{Name: "ghost", Source: filepath.Join(root, "ghost"), Destination: filepath.Join(root, "ghost.auv")})

	var mu sync.Mutex
	var seen []string
	pool := NewPool(2, testOpts)
	pool.OnResult = func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.File)
	}

	results, err := pool.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Len(t, seen, 4)

	for i, r := range results[:3] {
		assert.NoError(t, r.Err)
		assert.Equal(t, jobs[i].Name, r.File)
		assert.DirExists(t, jobs[i].Destination)
	}
	assert.Error(t, results[3].Err)
}

func TestPool_Process(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "one")
	makeSource(t, src, 300)

	res, err := NewPool(1, testOpts).Process(context.Background(), Job{Name: "one", Source: src, Destination: src + ".auv"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Levels)
}

func TestPool_SkipsFileInProgress(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "busy")
	makeSource(t, src, 300)
	job := Job{Name: "busy", Source: src, Destination: src + ".auv"}

	pool := NewPool(1, testOpts)
	require.True(t, pool.acquire(job.Destination))

	res, err := pool.Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.NoDirExists(t, job.Destination)

	pool.release(job.Destination)
	res, err = pool.Process(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.DirExists(t, job.Destination)
}
