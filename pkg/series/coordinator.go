// Package series ties raw access, the downsample hierarchy and threshold
// detection together for one series.
package series

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/detect"
	"github.com/autonlab/auviewer/pkg/downsample"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/metrics"
	"github.com/autonlab/auviewer/pkg/raw"
)

// Coordinator serves one series. Raw arrays are pulled per call and never
// retained past it.
type Coordinator struct {
	series    raw.Series
	accessor  *raw.Accessor
	hierarchy *downsample.Hierarchy
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator for s
func NewCoordinator(s raw.Series, accessor *raw.Accessor, hierarchy *downsample.Hierarchy, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		series:    s,
		accessor:  accessor,
		hierarchy: hierarchy,
		logger:    logging.OrNop(logger).With(zap.String("series", s.ID)),
	}
}

// Series returns the series descriptor
func (c *Coordinator) Series() raw.Series {
	return c.series
}

// ProcessAndStore pulls the series and builds its hierarchy, returning the level count.
func (c *Coordinator) ProcessAndStore(ctx context.Context) (int, error) {
	start := time.Now()

	levels, err := c.build(ctx)
	metrics.RecordBuild(levels, time.Since(start), err)
	if err != nil {
		return 0, &Error{SeriesID: c.series.ID, Op: "process", Err: err}
	}

	c.logger.Debug("processed series",
		zap.Int("levels", levels),
		zap.Duration("duration", time.Since(start)))
	return levels, nil
}

func (c *Coordinator) build(ctx context.Context) (int, error) {
	times, values, err := c.accessor.Pull(ctx, c.series)
	if err != nil {
		return 0, err
	}
	// raw arrays are only referenced from this frame
	return c.hierarchy.Build(ctx, times, values)
}

// FullOutput returns the coarsest level, or every raw point when the series has no levels.
func (c *Coordinator) FullOutput(ctx context.Context) (*Output, error) {
	intervals, ok, err := c.hierarchy.FullOutput(ctx)
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "full output", Err: err}
	}
	if ok {
		return c.downsampled("full", intervals), nil
	}

	out, err := c.rawOutput(ctx, "full", math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "full output", Err: err}
	}
	return out, nil
}

// RangedOutput returns the series over [start, stop] at a resolution fit for display.
func (c *Coordinator) RangedOutput(ctx context.Context, start, stop float64) (*Output, error) {
	intervals, ok, err := c.hierarchy.RangedOutput(ctx, start, stop)
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "ranged output", Err: err}
	}
	if ok {
		return c.downsampled("ranged", intervals), nil
	}

	out, err := c.rawOutput(ctx, "ranged", start, stop)
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "ranged output", Err: err}
	}
	return out, nil
}

func (c *Coordinator) downsampled(kind string, intervals []downsample.Interval) *Output {
	points := make([]Point, len(intervals))
	for i, iv := range intervals {
		points[i] = Point{Time: iv.Time, Min: iv.Min, Max: iv.Max}
	}
	metrics.RecordOutput(kind, SourceDownsample, len(points))
	return &Output{Points: points, SourceType: SourceDownsample}
}

func (c *Coordinator) rawOutput(ctx context.Context, kind string, start, stop float64) (*Output, error) {
	times, values, err := c.accessor.Pull(ctx, c.series)
	if err != nil {
		return nil, err
	}
	times, values = raw.Slice(times, values, start, stop)

	points := make([]Point, len(times))
	for i := range times {
		points[i] = Point{Time: times[i], Value: values[i], Raw: true}
	}
	metrics.RecordOutput(kind, SourceRaw, len(points))
	return &Output{Points: points, SourceType: SourceRaw}, nil
}

// DetectRequest holds threshold detection inputs. MinPoints for the scan is
// derived as ceil(ExpectedFrequency * Duration * MinDensity).
type DetectRequest struct {
	Low               *float64    `json:"threshold_low,omitempty"`
	High              *float64    `json:"threshold_high,omitempty"`
	Duration          float64     `json:"duration"`
	Persistence       float64     `json:"persistence"`
	MaxGap            float64     `json:"max_gap"`
	ExpectedFrequency float64     `json:"expected_frequency,omitempty"`
	MinDensity        float64     `json:"min_density,omitempty"`
	DropBelow         *float64    `json:"drop_below,omitempty"`
	DropAbove         *float64    `json:"drop_above,omitempty"`
	DropBetween       *[2]float64 `json:"drop_between,omitempty"`
}

// Params converts the request to scanner parameters
func (r DetectRequest) Params() detect.Params {
	minPoints := 0
	if r.ExpectedFrequency > 0 && r.MinDensity > 0 {
		minPoints = int(math.Ceil(r.ExpectedFrequency * r.Duration * r.MinDensity))
	}
	return detect.Params{
		Low:         r.Low,
		High:        r.High,
		Mode:        detect.ModeAuto,
		Duration:    r.Duration,
		Persistence: r.Persistence,
		MaxGap:      r.MaxGap,
		MinPoints:   minPoints,
		DropBelow:   r.DropBelow,
		DropAbove:   r.DropAbove,
		DropBetween: r.DropBetween,
	}
}

// DetectEpisodes scans the raw series for threshold episodes.
func (c *Coordinator) DetectEpisodes(ctx context.Context, req DetectRequest) ([]detect.Episode, error) {
	params := req.Params()
	if err := params.Validate(); err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "detect", Err: err}
	}

	times, values, err := c.accessor.Pull(ctx, c.series)
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "detect", Err: err}
	}

	episodes, err := detect.Scan(times, values, params)
	if err != nil {
		return nil, &Error{SeriesID: c.series.ID, Op: "detect", Err: err}
	}
	metrics.RecordEpisodes(len(episodes))
	return episodes, nil
}
