// Package detect finds threshold episodes in a raw series.
package detect

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidParameters is returned when scan parameters are missing or contradictory.
var ErrInvalidParameters = errors.New("invalid detection parameters")

// Mode selects which threshold comparisons count as violations.
type Mode int

const (
	// ModeAuto derives the mode from which thresholds are set.
	ModeAuto Mode = iota
	ModeLowOnly
	ModeHighOnly
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModeLowOnly:
		return "low_only"
	case ModeHighOnly:
		return "high_only"
	case ModeBoth:
		return "both"
	default:
		return "auto"
	}
}

// Params configures a scan. Nil pointers mean "not set".
type Params struct {
	Low  *float64
	High *float64
	Mode Mode

	Duration    float64 // window length in series time units
	Persistence float64 // minimum violating fraction of a window, in (0, 1]
	MaxGap      float64 // longest gap bridged inside one episode
	MinPoints   int     // episodes with fewer points are discarded

	DropBelow   *float64
	DropAbove   *float64
	DropBetween *[2]float64 // inclusive band
}

// Episode is a detected [Start, End] time range.
type Episode struct {
	Start float64
	End   float64
}

// MarshalJSON encodes an episode as a [start, end] pair
func (e Episode) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, "[%g,%g]", e.Start, e.End), nil
}

// UnmarshalJSON decodes a [start, end] pair
func (e *Episode) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	e.Start, e.End = pair[0], pair[1]
	return nil
}

func (p Params) resolveMode() (Mode, error) {
	if p.Low == nil && p.High == nil {
		return 0, fmt.Errorf("no threshold supplied: %w", ErrInvalidParameters)
	}
	mode := p.Mode
	if mode == ModeAuto {
		switch {
		case p.Low != nil && p.High != nil:
			mode = ModeBoth
		case p.Low != nil:
			mode = ModeLowOnly
		default:
			mode = ModeHighOnly
		}
	}
	if (mode == ModeLowOnly || mode == ModeBoth) && p.Low == nil {
		return 0, fmt.Errorf("mode %s needs a low threshold: %w", mode, ErrInvalidParameters)
	}
	if (mode == ModeHighOnly || mode == ModeBoth) && p.High == nil {
		return 0, fmt.Errorf("mode %s needs a high threshold: %w", mode, ErrInvalidParameters)
	}
	if mode < ModeAuto || mode > ModeBoth {
		return 0, fmt.Errorf("unknown mode %d: %w", mode, ErrInvalidParameters)
	}
	return mode, nil
}

// Validate checks that the parameters can drive a scan
func (p Params) Validate() error {
	_, err := p.validate()
	return err
}

// validate checks every parameter and returns the effective mode.
func (p Params) validate() (Mode, error) {
	mode, err := p.resolveMode()
	if err != nil {
		return 0, err
	}
	if !(p.Duration > 0) {
		return 0, fmt.Errorf("duration must be positive, got %g: %w", p.Duration, ErrInvalidParameters)
	}
	if !(p.Persistence > 0) || p.Persistence > 1 {
		return 0, fmt.Errorf("persistence must be in (0, 1], got %g: %w", p.Persistence, ErrInvalidParameters)
	}
	if !(p.MaxGap > 0) {
		return 0, fmt.Errorf("max gap must be positive, got %g: %w", p.MaxGap, ErrInvalidParameters)
	}
	if p.MinPoints < 0 {
		return 0, fmt.Errorf("min points must not be negative, got %d: %w", p.MinPoints, ErrInvalidParameters)
	}
	if p.DropBetween != nil && p.DropBetween[0] > p.DropBetween[1] {
		return 0, fmt.Errorf("drop band [%g, %g] is inverted: %w", p.DropBetween[0], p.DropBetween[1], ErrInvalidParameters)
	}
	return mode, nil
}

// Scan returns time-ordered, non-overlapping episodes where the series
// persistently violates the thresholds. Times must be strictly ascending.
//
// Every violating point anchors a window [t, t+Duration]. When at least
// Persistence of the window's points violate, the span from the anchor to
// the window's last violation is confirmed. Confirmed spans whose anchor is
// within MaxGap of the open episode's last violation extend it; otherwise
// the open episode is closed. Episodes of zero length or with fewer than
// MinPoints points are discarded.
func Scan(times, values []float64, p Params) ([]Episode, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("times and values differ in length: %d vs %d", len(times), len(values))
	}
	mode, err := p.validate()
	if err != nil {
		return nil, err
	}

	ts, vs := p.filter(times, values)
	if len(ts) == 0 {
		return []Episode{}, nil
	}

	low, high := 0.0, 0.0
	if p.Low != nil {
		low = *p.Low
	}
	if p.High != nil {
		high = *p.High
	}
	violates := func(v float64) bool {
		switch mode {
		case ModeLowOnly:
			return v < low
		case ModeHighOnly:
			return v > high
		default:
			return v < low || v > high
		}
	}

	// prefix[k] = violations among points [0, k); lastViol[k] = last violating index <= k
	n := len(ts)
	prefix := make([]int, n+1)
	lastViol := make([]int, n)
	last := -1
	for k, v := range vs {
		prefix[k+1] = prefix[k]
		if violates(v) {
			prefix[k+1]++
			last = k
		}
		lastViol[k] = last
	}

	episodes := []Episode{}
	open := false
	var startIdx, endIdx int

	closeEpisode := func() {
		if !open {
			return
		}
		open = false
		if ts[endIdx] <= ts[startIdx] || endIdx-startIdx+1 < p.MinPoints {
			return
		}
		episodes = append(episodes, Episode{Start: ts[startIdx], End: ts[endIdx]})
	}

	j := 0 // window end, exclusive
	for i := 0; i < n; i++ {
		if j < i+1 {
			j = i + 1
		}
		for j < n && ts[j] <= ts[i]+p.Duration {
			j++
		}
		if prefix[i+1] == prefix[i] {
			continue
		}

		inWindow := j - i
		violating := prefix[j] - prefix[i]
		if float64(violating)/float64(inWindow) < p.Persistence {
			continue
		}
		spanEnd := lastViol[j-1]

		if open && ts[i]-ts[endIdx] <= p.MaxGap {
			if spanEnd > endIdx {
				endIdx = spanEnd
			}
			continue
		}
		closeEpisode()
		open, startIdx, endIdx = true, i, spanEnd
	}
	closeEpisode()

	return episodes, nil
}

// filter drops excluded points. It returns the inputs unchanged when no drop is set.
func (p Params) filter(times, values []float64) ([]float64, []float64) {
	if p.DropBelow == nil && p.DropAbove == nil && p.DropBetween == nil {
		return times, values
	}

	ts := make([]float64, 0, len(times))
	vs := make([]float64, 0, len(values))
	for i, v := range values {
		if p.DropBelow != nil && v < *p.DropBelow {
			continue
		}
		if p.DropAbove != nil && v > *p.DropAbove {
			continue
		}
		if p.DropBetween != nil && v >= p.DropBetween[0] && v <= p.DropBetween[1] {
			continue
		}
		ts = append(ts, times[i])
		vs = append(vs, v)
	}
	return ts, vs
}
