package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/export"
	"github.com/autonlab/auviewer/pkg/series"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		start, stop float64
		format      string
	)

	cmd := &cobra.Command{
		Use:   "export FILE SERIES",
		Short: "Print the output a viewer would receive for a series",
		Long: `Print the full output of a series, or with --start and --stop the output
for that window. Processed series print downsampled min/max rows; the rest
print raw points.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ranged := cmd.Flags().Changed("start") || cmd.Flags().Changed("stop")
			if ranged && !(cmd.Flags().Changed("start") && cmd.Flags().Changed("stop")) {
				return fmt.Errorf("--start and --stop must be given together")
			}
			if ranged && stop < start {
				return fmt.Errorf("--stop must not be before --start")
			}

			reg := a.registry()
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
			defer cancel()

			f, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			coord, err := f.Coordinator(args[1])
			if err != nil {
				return err
			}

			var out *series.Output
			if ranged {
				out, err = coord.RangedOutput(ctx, start, stop)
			} else {
				out, err = coord.FullOutput(ctx)
			}
			if err != nil {
				return err
			}

			_, err = export.ExportOutput(a.stdout, args[1], out, format)
			return err
		},
	}

	cmd.Flags().Float64Var(&start, "start", 0, "window start in seconds")
	cmd.Flags().Float64Var(&stop, "stop", 0, "window end in seconds")
	cmd.Flags().StringVar(&format, "format", export.FormatCSV, "output format (csv or json)")
	return cmd
}
