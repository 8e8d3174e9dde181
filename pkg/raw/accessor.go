// Package raw reads a single series' (time, value) arrays from a source store.
package raw

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/autonlab/auviewer/pkg/storage"
)

var (
	// ErrResourceExhausted is returned when a series is too large to pull into memory.
	ErrResourceExhausted = errors.New("raw series exceeds memory bound")

	// ErrNotAscending is returned when a time column is not strictly ascending.
	ErrNotAscending = errors.New("time column not strictly ascending")
)

// Series identifies one (time, value) column pair in a source store.
type Series struct {
	ID        string `json:"id"`
	TimePath  string `json:"time_path"`
	ValuePath string `json:"value_path"`
	Unit      string `json:"unit,omitempty"`
}

// Accessor pulls raw series from a store.
type Accessor struct {
	store     storage.Storage
	maxPoints int
}

// NewAccessor creates an accessor. maxPoints <= 0 disables the size bound.
func NewAccessor(store storage.Storage, maxPoints int) *Accessor {
	return &Accessor{store: store, maxPoints: maxPoints}
}

// Pull reads the series and drops NaN values, keeping times and values aligned.
func (a *Accessor) Pull(ctx context.Context, s Series) (times, values []float64, err error) {
	info, err := a.store.StatArray(ctx, s.TimePath)
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", s.TimePath, err)
	}
	if a.maxPoints > 0 && info.Rows > a.maxPoints {
		return nil, nil, fmt.Errorf("series %s has %d rows, limit %d: %w", s.ID, info.Rows, a.maxPoints, ErrResourceExhausted)
	}

	tarr, err := a.store.ReadArray(ctx, s.TimePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.TimePath, err)
	}
	varr, err := a.store.ReadArray(ctx, s.ValuePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", s.ValuePath, err)
	}

	times, values = tarr.Column(0), varr.Column(0)
	if len(times) != len(values) {
		return nil, nil, fmt.Errorf("series %s: %d times but %d values", s.ID, len(times), len(values))
	}

	times, values = dropNaN(times, values)
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, nil, fmt.Errorf("series %s at row %d: %w", s.ID, i, ErrNotAscending)
		}
	}
	return times, values, nil
}

// PointCount returns the stored row count without reading the series.
// NaN values are included in the count.
func (a *Accessor) PointCount(ctx context.Context, s Series) (int, error) {
	info, err := a.store.StatArray(ctx, s.TimePath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", s.TimePath, err)
	}
	return info.Rows, nil
}

// Timespan returns last minus first timestamp without reading the series.
func (a *Accessor) Timespan(ctx context.Context, s Series) (float64, error) {
	first, last, err := a.Bounds(ctx, s)
	if err != nil {
		return 0, err
	}
	return last - first, nil
}

// Bounds returns the first and last timestamps from array metadata.
func (a *Accessor) Bounds(ctx context.Context, s Series) (first, last float64, err error) {
	info, err := a.store.StatArray(ctx, s.TimePath)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", s.TimePath, err)
	}
	if info.Rows == 0 {
		return 0, 0, nil
	}
	return info.First[0], info.Last[0], nil
}

// Slice returns the sub-slices whose times fall within [start, stop].
// The returned slices share memory with the inputs.
func Slice(times, values []float64, start, stop float64) ([]float64, []float64) {
	lo := sort.SearchFloat64s(times, start)
	hi := sort.Search(len(times), func(i int) bool { return times[i] > stop })
	if lo >= hi {
		return nil, nil
	}
	return times[lo:hi], values[lo:hi]
}

// dropNaN filters in place.
func dropNaN(times, values []float64) ([]float64, []float64) {
	n := 0
	for i := range values {
		if math.IsNaN(values[i]) || math.IsNaN(times[i]) {
			continue
		}
		times[n], values[n] = times[i], values[i]
		n++
	}
	return times[:n], values[:n]
}
