package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/config"
)

func newSeriesCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "series FILE",
		Short: "List the series of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.registry()
			defer reg.Close()

			ctx, cancel := context.WithTimeout(context.Background(), config.QueryTimeout)
			defer cancel()

			f, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			infos, err := f.Describe(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERIES\tUNIT\tPOINTS\tSTART\tEND\tLEVELS")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%g\t%d\n", info.ID, info.Unit, info.Points, info.Start, info.End, info.Levels)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
