package downsample

import (
	"fmt"
	"math"
)

// BuildFromRaw partitions points into targetIntervals equal time slices and
// summarizes each non-empty slice. It returns the intervals in time order and
// the time per interval. Times must be strictly ascending.
//
// A zero timespan degrades to a single interval holding every point.
func BuildFromRaw(times, values []float64, targetIntervals int) ([]Interval, float64, error) {
	if len(times) == 0 || len(times) != len(values) {
		return nil, 0, fmt.Errorf("need equal non-empty times and values, got %d and %d", len(times), len(values))
	}
	if targetIntervals < 1 {
		return nil, 0, fmt.Errorf("target interval count must be positive, got %d", targetIntervals)
	}

	t0 := times[0]
	span := times[len(times)-1] - t0
	if span <= 0 {
		iv := Interval{Time: t0, Min: values[0], Max: values[0]}
		for _, v := range values {
			iv.Min = math.Min(iv.Min, v)
			iv.Max = math.Max(iv.Max, v)
		}
		iv.Count = len(values)
		return []Interval{iv}, 0, nil
	}

	tpi := span / float64(targetIntervals)
	out := make([]Interval, 0, min(targetIntervals, len(times)))

	bucket := -1
	var cur Interval
	for i, t := range times {
		idx := int((t - t0) / tpi)
		// the last point sits on the right edge of the final slice
		if idx >= targetIntervals {
			idx = targetIntervals - 1
		}

		v := values[i]
		if idx != bucket {
			if bucket >= 0 {
				out = append(out, cur)
			}
			bucket = idx
			cur = Interval{Time: t0 + (float64(idx)+0.5)*tpi, Min: v, Max: v}
		}
		if v < cur.Min {
			cur.Min = v
		}
		if v > cur.Max {
			cur.Max = v
		}
		cur.Count++
	}
	out = append(out, cur)

	return out, tpi, nil
}

// BuildNextLevelUp merges every step consecutive slices of a level into one.
// Slices are identified by their position on the level's grid, so empty fine
// slices still count toward a group. A short group at the tail is kept.
func BuildNextLevelUp(prev []Interval, prevTPI float64, step int) ([]Interval, error) {
	if step < 2 {
		return nil, fmt.Errorf("step multiplier must be at least 2, got %d", step)
	}
	if len(prev) == 0 {
		return nil, nil
	}
	if prevTPI <= 0 {
		// zero-span series: a single slice has nothing to merge with
		return append([]Interval(nil), prev...), nil
	}

	origin := prev[0].Time - prevTPI/2
	tpi := prevTPI * float64(step)
	out := make([]Interval, 0, len(prev)/step+1)

	group := -1
	var cur Interval
	for _, iv := range prev {
		g := int(math.Floor((iv.Time-origin)/prevTPI)) / step
		if g != group {
			if group >= 0 {
				out = append(out, cur)
			}
			group = g
			cur = Interval{Time: origin + (float64(g)+0.5)*tpi, Min: iv.Min, Max: iv.Max}
		}
		cur.Min = math.Min(cur.Min, iv.Min)
		cur.Max = math.Max(cur.Max, iv.Max)
		cur.Count += iv.Count
	}
	out = append(out, cur)

	return out, nil
}

// PlanLevelCount returns how many levels a series of totalPoints warrants.
// The finest level of N levels has M×step^(N-1) intervals; levels are added
// while that level would still average at least step points per interval.
func PlanLevelCount(totalPoints, m, step int) int {
	if m < 1 || step < 2 {
		return 0
	}
	n := 0
	for intervals := m; intervals*step <= totalPoints; intervals *= step {
		n++
	}
	return n
}
