package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/export"
)

func newImportCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import --name NAME file.csv...",
		Short: "Create a source container from CSV files",
		Long: `Create a source container in the data directory. Each CSV file becomes a
group named after the file; its time column is the one headed "time" or the
first column, and every numeric column becomes a series.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			reg := a.registry()
			defer reg.Close()

			if err := os.MkdirAll(a.cfg.Storage.DataDir, 0o755); err != nil {
				return err
			}

			result, err := export.ImportFiles(context.Background(), reg.SourcePath(name), args, a.logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "imported %s: %d series, %d rows from %d groups\n",
				name, result.SeriesImported, result.RowsImported, len(result.Groups))
			for _, skipped := range result.Skipped {
				fmt.Fprintf(a.stdout, "skipped non-numeric column %s\n", skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name of the new container")
	return cmd
}
