package downsample

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/storage"
)

const (
	manifestKey = "manifest"
	buildPrefix = "build-"
)

// Options configures a hierarchy.
type Options struct {
	IntervalCount    int     // M, intervals on the coarsest level
	StepMultiplier   int     // interval count ratio between adjacent levels
	RawFallbackRatio float64 // see SelectLevel
	Logger           *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.IntervalCount <= 0 {
		o.IntervalCount = config.DefaultIntervalCount
	}
	if o.StepMultiplier < 2 {
		o.StepMultiplier = config.DefaultStepMultiplier
	}
	if o.RawFallbackRatio <= 0 {
		o.RawFallbackRatio = config.DefaultRawFallbackRatio
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Hierarchy manages the persisted levels of one series under a store prefix.
type Hierarchy struct {
	store  storage.Storage
	prefix string
	opts   Options
}

// NewHierarchy creates a hierarchy rooted at prefix.
func NewHierarchy(store storage.Storage, prefix string, opts Options) *Hierarchy {
	return &Hierarchy{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		opts:   opts.withDefaults(),
	}
}

// Prefix returns the store prefix holding this hierarchy
func (h *Hierarchy) Prefix() string {
	return h.prefix
}

// Build computes and persists every level for the series. Levels become
// visible together when the manifest is written; on any failure the partial
// output is removed and the previous manifest, if any, stays in effect.
// It returns the number of levels built.
func (h *Hierarchy) Build(ctx context.Context, times, values []float64) (int, error) {
	if len(times) != len(values) {
		return 0, fmt.Errorf("times and values differ in length: %d vs %d", len(times), len(values))
	}
	if err := h.Cleanup(ctx); err != nil {
		return 0, fmt.Errorf("cleanup before build: %w", err)
	}

	m, step := h.opts.IntervalCount, h.opts.StepMultiplier
	n := PlanLevelCount(len(times), m, step)

	manifest := &Manifest{
		BuildID:        uuid.NewString(),
		IntervalCount:  m,
		StepMultiplier: step,
		RawPoints:      len(times),
		Levels:         make([]Level, n),
		BuiltAt:        time.Now().Unix(),
	}
	if len(times) > 0 {
		manifest.Start, manifest.End = times[0], times[len(times)-1]
	}

	if err := h.writeLevels(ctx, manifest, times, values); err != nil {
		if cerr := h.store.DeletePrefix(context.WithoutCancel(ctx), h.buildDir(manifest.BuildID)); cerr != nil {
			h.opts.Logger.Warn("failed to remove partial build",
				zap.String("prefix", h.prefix), zap.Error(cerr))
		}
		return 0, err
	}

	previous, _ := h.Manifest(ctx)

	if err := h.publish(ctx, manifest); err != nil {
		if cerr := h.store.DeletePrefix(context.WithoutCancel(ctx), h.buildDir(manifest.BuildID)); cerr != nil {
			h.opts.Logger.Warn("failed to remove unpublished build",
				zap.String("prefix", h.prefix), zap.Error(cerr))
		}
		return 0, err
	}

	if previous != nil && previous.BuildID != manifest.BuildID {
		if err := h.store.DeletePrefix(ctx, h.buildDir(previous.BuildID)); err != nil {
			// a stale directory is picked up by the next Cleanup
			h.opts.Logger.Warn("failed to remove superseded build",
				zap.String("prefix", h.prefix), zap.Error(err))
		}
	}

	h.opts.Logger.Debug("built hierarchy",
		zap.String("prefix", h.prefix),
		zap.Int("points", len(times)),
		zap.Int("levels", n))
	return n, nil
}

// writeLevels builds the finest level from raw, then each coarser level from the one below.
func (h *Hierarchy) writeLevels(ctx context.Context, manifest *Manifest, times, values []float64) error {
	n := len(manifest.Levels)
	if n == 0 {
		return nil
	}
	m, step := manifest.IntervalCount, manifest.StepMultiplier

	target := m * int(math.Pow(float64(step), float64(n-1)))
	level, tpi, err := BuildFromRaw(times, values, target)
	if err != nil {
		return fmt.Errorf("build level %d: %w", n-1, err)
	}

	for i := n - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i < n-1 {
			level, err = BuildNextLevelUp(level, tpi, step)
			if err != nil {
				return fmt.Errorf("build level %d: %w", i, err)
			}
			tpi *= float64(step)
		}

		if err := h.store.WriteArray(ctx, h.levelPath(manifest.BuildID, i), encodeLevel(level)); err != nil {
			return fmt.Errorf("write level %d: %w", i, err)
		}
		manifest.Levels[i] = Level{Index: i, TimePerInterval: tpi, Intervals: len(level)}
	}
	return nil
}

func (h *Hierarchy) publish(ctx context.Context, manifest *Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := h.store.WriteMeta(ctx, storage.Join(h.prefix, manifestKey), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Manifest returns the published manifest, or nil when the series has never
// been built. A manifest that cannot be decoded is reported as ErrPartialArtifact.
func (h *Hierarchy) Manifest(ctx context.Context) (*Manifest, error) {
	data, err := h.store.ReadMeta(ctx, storage.Join(h.prefix, manifestKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest for %s: %w", h.prefix, ErrPartialArtifact)
	}
	if manifest.BuildID == "" || manifest.IntervalCount < 1 {
		return nil, fmt.Errorf("incomplete manifest for %s: %w", h.prefix, ErrPartialArtifact)
	}
	return &manifest, nil
}

// LevelCount returns the number of visible levels; 0 when unbuilt or partial.
func (h *Hierarchy) LevelCount(ctx context.Context) int {
	manifest, err := h.Manifest(ctx)
	if err != nil || manifest == nil {
		return 0
	}
	return len(manifest.Levels)
}

// ReadLevel loads level i of the published build.
func (h *Hierarchy) ReadLevel(ctx context.Context, i int) ([]Interval, error) {
	manifest, err := h.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	if manifest == nil || i < 0 || i >= len(manifest.Levels) {
		return nil, fmt.Errorf("level %d of %s: %w", i, h.prefix, storage.ErrNotFound)
	}
	return h.readLevel(ctx, manifest, i)
}

func (h *Hierarchy) readLevel(ctx context.Context, manifest *Manifest, i int) ([]Interval, error) {
	arr, err := h.store.ReadArray(ctx, h.levelPath(manifest.BuildID, i))
	if err != nil {
		return nil, err
	}
	intervals, err := decodeLevel(arr)
	if err != nil {
		return nil, err
	}
	if len(intervals) != manifest.Levels[i].Intervals {
		return nil, fmt.Errorf("level %d of %s has %d intervals, manifest says %d: %w",
			i, h.prefix, len(intervals), manifest.Levels[i].Intervals, ErrPartialArtifact)
	}
	return intervals, nil
}

// SelectLevel picks the level for [start, stop] from the published manifest.
// useRaw is true when there are no levels or the finest is too coarse.
func (h *Hierarchy) SelectLevel(ctx context.Context, start, stop float64) (level int, useRaw bool, err error) {
	manifest, err := h.Manifest(ctx)
	if err != nil || manifest == nil {
		return 0, true, err
	}
	level, useRaw = manifest.SelectLevel(start, stop, h.opts.RawFallbackRatio)
	return level, useRaw, nil
}

// RangedOutput returns the intervals of the selected level whose times fall in
// [start, stop]. ok is false when the caller should serve raw data instead,
// which includes missing or partial levels.
func (h *Hierarchy) RangedOutput(ctx context.Context, start, stop float64) ([]Interval, bool, error) {
	return h.output(ctx, func(manifest *Manifest) (int, bool) {
		return manifest.SelectLevel(start, stop, h.opts.RawFallbackRatio)
	}, func(level []Interval) []Interval {
		lo := sort.Search(len(level), func(i int) bool { return level[i].Time >= start })
		hi := sort.Search(len(level), func(i int) bool { return level[i].Time > stop })
		if lo >= hi {
			return []Interval{}
		}
		return level[lo:hi]
	})
}

// FullOutput returns the coarsest level. ok is false when there are no levels.
func (h *Hierarchy) FullOutput(ctx context.Context) ([]Interval, bool, error) {
	return h.output(ctx, func(manifest *Manifest) (int, bool) {
		return 0, len(manifest.Levels) == 0
	}, func(level []Interval) []Interval {
		return level
	})
}

func (h *Hierarchy) output(ctx context.Context, pick func(*Manifest) (int, bool), slice func([]Interval) []Interval) ([]Interval, bool, error) {
	// A rebuild may swap the manifest between reading it and reading the
	// level, so a vanished level is retried once against the new manifest.
	for attempt := 0; attempt < 2; attempt++ {
		manifest, err := h.Manifest(ctx)
		if errors.Is(err, ErrPartialArtifact) {
			h.opts.Logger.Warn("ignoring partial hierarchy", zap.String("prefix", h.prefix), zap.Error(err))
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if manifest == nil {
			return nil, false, nil
		}

		level, useRaw := pick(manifest)
		if useRaw {
			return nil, false, nil
		}

		intervals, err := h.readLevel(ctx, manifest, level)
		switch {
		case err == nil:
			return slice(intervals), true, nil
		case errors.Is(err, storage.ErrNotFound) && attempt == 0:
			continue
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrPartialArtifact):
			h.opts.Logger.Warn("level unavailable, falling back to raw",
				zap.String("prefix", h.prefix), zap.Int("level", level), zap.Error(err))
			return nil, false, nil
		default:
			return nil, false, err
		}
	}
	return nil, false, nil
}

// PartialBuilds lists build directories that no manifest references.
func (h *Hierarchy) PartialBuilds(ctx context.Context) ([]string, error) {
	manifest, err := h.Manifest(ctx)
	if err != nil && !errors.Is(err, ErrPartialArtifact) {
		return nil, err
	}

	paths, err := h.store.List(ctx, h.prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var stale []string
	for _, p := range paths {
		id, ok := h.buildIDOf(p)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if manifest == nil || manifest.BuildID != id {
			stale = append(stale, h.buildDir(id))
		}
	}
	return stale, nil
}

// Cleanup removes partial artifacts left by interrupted builds. An undecodable
// manifest is removed too, returning the series to the unbuilt state.
func (h *Hierarchy) Cleanup(ctx context.Context) error {
	if _, err := h.Manifest(ctx); errors.Is(err, ErrPartialArtifact) {
		if err := h.store.DeletePrefix(ctx, storage.Join(h.prefix, manifestKey)); err != nil {
			return err
		}
	}

	stale, err := h.PartialBuilds(ctx)
	if err != nil {
		return err
	}
	for _, dir := range stale {
		h.opts.Logger.Info("removing partial build", zap.String("dir", dir))
		if err := h.store.DeletePrefix(ctx, dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

func (h *Hierarchy) buildDir(id string) string {
	return storage.Join(h.prefix, buildPrefix+id)
}

func (h *Hierarchy) levelPath(id string, level int) string {
	return storage.Join(h.buildDir(id), strconv.Itoa(level))
}

// buildIDOf extracts the build id from a level path under this prefix.
func (h *Hierarchy) buildIDOf(path string) (string, bool) {
	rest := strings.TrimPrefix(path, h.prefix+"/")
	if h.prefix == "" {
		rest = path
	}
	dir, _, found := strings.Cut(rest, "/")
	if !found || !strings.HasPrefix(dir, buildPrefix) {
		return "", false
	}
	return strings.TrimPrefix(dir, buildPrefix), true
}
