package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/processing"
)

func newProcessCmd(a *app) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "process [file...]",
		Short: "Build downsampling levels for files that have none yet",
		Long: `Build the processed store of each named file, or of every file in the
data directory that has not been processed yet. Files that already have a
processed store are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.registry()
			defer reg.Close()

			names := args
			if len(names) == 0 {
				var err error
				if names, err = reg.Pending(); err != nil {
					return err
				}
			}
			if len(names) == 0 {
				fmt.Fprintln(a.stdout, "nothing to process")
				return nil
			}

			if workers <= 0 {
				workers = a.cfg.Processing.Workers
			}
			jobs := make([]processing.Job, len(names))
			for i, name := range names {
				jobs[i] = processing.Job{Name: name, Source: reg.SourcePath(name), Destination: reg.ProcessedPath(name)}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := processing.NewPool(workers, a.options()).Run(ctx, jobs)
			if err != nil {
				return err
			}

			failed := 0
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tSTATUS\tSERIES\tLEVELS\tFAILED SERIES\tDURATION")
			for _, r := range results {
				status := "processed"
				switch {
				case r.Err != nil:
					status = "error: " + r.Err.Error()
					failed++
				case r.Skipped:
					status = "skipped"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.File, status, r.Series, r.Levels, strings.Join(r.Failed, ","), r.Duration.Round(time.Millisecond))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "number of files processed in parallel (default from config)")
	return cmd
}
