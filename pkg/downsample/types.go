package downsample

import (
	"errors"
	"fmt"

	"github.com/autonlab/auviewer/pkg/storage"
)

// ErrPartialArtifact marks a build that was interrupted before its manifest was written.
var ErrPartialArtifact = errors.New("partial downsample artifact")

// Interval summarizes the points of one time slice.
type Interval struct {
	Time  float64 // slice midpoint
	Min   float64
	Max   float64
	Count int
}

// intervalWidth is the number of columns of a persisted level
const intervalWidth = 4

// encodeLevel converts intervals to a (time, min, max, count) array
func encodeLevel(intervals []Interval) storage.Array {
	data := make([]float64, 0, len(intervals)*intervalWidth)
	for _, iv := range intervals {
		data = append(data, iv.Time, iv.Min, iv.Max, float64(iv.Count))
	}
	return storage.Array{Width: intervalWidth, Data: data}
}

// decodeLevel converts a persisted array back to intervals
func decodeLevel(arr storage.Array) ([]Interval, error) {
	if arr.Width != intervalWidth {
		return nil, fmt.Errorf("level array has width %d, want %d", arr.Width, intervalWidth)
	}
	out := make([]Interval, arr.Rows())
	for i := range out {
		row := arr.Row(i)
		out[i] = Interval{Time: row[0], Min: row[1], Max: row[2], Count: int(row[3])}
	}
	return out, nil
}

// Level describes one persisted resolution level.
type Level struct {
	Index           int     `json:"index"`
	TimePerInterval float64 `json:"time_per_interval"`
	Intervals       int     `json:"intervals"`
}

// Manifest is the single record that makes a build visible to readers.
type Manifest struct {
	BuildID        string  `json:"build_id"`
	IntervalCount  int     `json:"interval_count"`
	StepMultiplier int     `json:"step_multiplier"`
	RawPoints      int     `json:"raw_points"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Levels         []Level `json:"levels"`
	BuiltAt        int64   `json:"built_at"`
}

// SelectLevel picks the level to serve for [start, stop].
// It returns useRaw when the finest level is too coarse for the window.
func (m *Manifest) SelectLevel(start, stop, rawFallbackRatio float64) (level int, useRaw bool) {
	tpis := make([]float64, len(m.Levels))
	for i, l := range m.Levels {
		tpis[i] = l.TimePerInterval
	}
	return SelectLevel(tpis, start, stop, m.IntervalCount, rawFallbackRatio)
}

// SelectLevel chooses among levels ordered coarsest first by their time per interval.
// The coarsest level whose resolution still meets (stop-start)/M is chosen; if none
// does, level 0 is used. With no levels, useRaw is always true.
func SelectLevel(tpis []float64, start, stop float64, m int, rawFallbackRatio float64) (level int, useRaw bool) {
	if len(tpis) == 0 {
		return 0, true
	}
	maxTPI := (stop - start) / float64(m)

	for i, tpi := range tpis {
		if tpi < maxTPI {
			break
		}
		level = i
	}

	if level == len(tpis)-1 && tpis[level] > rawFallbackRatio*maxTPI {
		return level, true
	}
	return level, false
}
