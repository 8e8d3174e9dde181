package raw

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/memory"
)

var hr = Series{ID: "vitals/hr", TimePath: "vitals/time", ValuePath: "vitals/hr"}

func seed(t *testing.T, times, values []float64) *memory.Storage {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.WriteArray(ctx, hr.TimePath, storage.NewArray(times)))
	require.NoError(t, store.WriteArray(ctx, hr.ValuePath, storage.NewArray(values)))
	return store
}

func TestAccessor_PullDropsNaN(t *testing.T) {
	store := seed(t, []float64{0, 1, 2, 3}, []float64{10, math.NaN(), 12, math.NaN()})
	times, values, err := NewAccessor(store, 0).Pull(context.Background(), hr)

	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2}, times)
	assert.Equal(t, []float64{10, 12}, values)
}

func TestAccessor_PullNotFound(t *testing.T) {
	_, _, err := NewAccessor(memory.New(), 0).Pull(context.Background(), hr)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAccessor_PullExhausted(t *testing.T) {
	store := seed(t, []float64{0, 1, 2}, []float64{1, 1, 1})
	_, _, err := NewAccessor(store, 2).Pull(context.Background(), hr)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
}

func TestAccessor_PullRejectsUnordered(t *testing.T) {
	store := seed(t, []float64{0, 2, 1}, []float64{1, 1, 1})
	_, _, err := NewAccessor(store, 0).Pull(context.Background(), hr)
	assert.True(t, errors.Is(err, ErrNotAscending))
}

func TestAccessor_Metadata(t *testing.T) {
	store := seed(t, []float64{5, 6, 7, 15}, []float64{1, math.NaN(), 1, 1})
	a := NewAccessor(store, 0)
	ctx := context.Background()

	n, err := a.PointCount(ctx, hr)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	span, err := a.Timespan(ctx, hr)
	require.NoError(t, err)
	assert.Equal(t, 10.0, span)
}

func TestSlice(t *testing.T) {
	times := []float64{0, 1, 2, 3, 4, 5}
	values := []float64{10, 11, 12, 13, 14, 15}

	tests := []struct {
		name        string
		start, stop float64
		want        []float64
	}{
		{"inclusive bounds", 1, 3, []float64{11, 12, 13}},
		{"between points", 0.5, 2.5, []float64{11, 12}},
		{"whole", -10, 10, values},
		{"empty", 6, 9, nil},
		{"inverted", 3, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := Slice(times, values, tt.start, tt.stop)
			assert.Equal(t, tt.want, got)
		})
	}
}
