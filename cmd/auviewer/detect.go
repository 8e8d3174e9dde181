package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/export"
	"github.com/autonlab/auviewer/pkg/series"
)

func newDetectCmd(a *app) *cobra.Command {
	var (
		req         series.DetectRequest
		low, high   float64
		dropBelow   float64
		dropAbove   float64
		dropBetween []float64
		format      string
	)

	cmd := &cobra.Command{
		Use:   "detect FILE SERIES",
		Short: "Find episodes where a series stays outside its thresholds",
		Long: `Scan the raw points of a series for episodes that violate the thresholds.

A violating point starts a window of --duration seconds; the window counts
when at least --persistence of its points violate. Episodes closer than
--max-gap seconds are merged.`,
		Example: `  auviewer detect patient-1 vitals/hr --high 120 --duration 60 --persistence 0.8 --max-gap 30
  auviewer detect patient-1 vitals/spo2 --low 90 --duration 30 --persistence 1 --max-gap 10 --format csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("low") {
				req.Low = &low
			}
			if flags.Changed("high") {
				req.High = &high
			}
			if flags.Changed("drop-below") {
				req.DropBelow = &dropBelow
			}
			if flags.Changed("drop-above") {
				req.DropAbove = &dropAbove
			}
			if flags.Changed("drop-between") {
				if len(dropBetween) != 2 {
					return fmt.Errorf("--drop-between takes two values, got %d", len(dropBetween))
				}
				req.DropBetween = &[2]float64{dropBetween[0], dropBetween[1]}
			}
			if format != export.FormatJSON && format != export.FormatCSV {
				return fmt.Errorf("unsupported format %q", format)
			}

			reg := a.registry()
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), config.DetectTimeout)
			defer cancel()

			f, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			coord, err := f.Coordinator(args[1])
			if err != nil {
				return err
			}
			episodes, err := coord.DetectEpisodes(ctx, req)
			if err != nil {
				return err
			}

			if format == export.FormatCSV {
				_, err = export.ExportEpisodes(a.stdout, episodes)
				return err
			}
			return json.NewEncoder(a.stdout).Encode(map[string]interface{}{"episodes": episodes})
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&low, "low", 0, "values below this threshold violate")
	flags.Float64Var(&high, "high", 0, "values above this threshold violate")
	flags.Float64Var(&req.Duration, "duration", 0, "window length in seconds")
	flags.Float64Var(&req.Persistence, "persistence", 1, "fraction of violating points a window needs, in (0, 1]")
	flags.Float64Var(&req.MaxGap, "max-gap", 0, "merge episodes closer than this many seconds")
	flags.Float64Var(&req.ExpectedFrequency, "expected-frequency", 0, "expected samples per second, used with --min-density")
	flags.Float64Var(&req.MinDensity, "min-density", 0, "fraction of expected samples an episode needs")
	flags.Float64Var(&dropBelow, "drop-below", 0, "ignore points below this value")
	flags.Float64Var(&dropAbove, "drop-above", 0, "ignore points above this value")
	flags.Float64SliceVar(&dropBetween, "drop-between", nil, "ignore points within LOW,HIGH inclusive")
	flags.StringVar(&format, "format", export.FormatJSON, "output format (json or csv)")
	return cmd
}
