package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/autonlab/auviewer/pkg/client"
	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/query"
)

func newFilesCmd(a *app) *cobra.Command {
	var (
		endpoint string
		apiKey   string
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List source files and whether they are processed",
		Long: `List the source containers in the data directory, or on a running
server when --server is set.`,
		Example: `  auviewer files
  auviewer files --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), config.ListTimeout)
			defer cancel()

			var (
				entries []query.FileEntry
				err     error
			)
			if endpoint != "" {
				entries, err = remoteFiles(ctx, endpoint, apiKey)
			} else {
				entries, err = a.localFiles()
			}
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "no files")
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tPROCESSED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%t\n", e.Name, e.Processed)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&endpoint, "server", "", "query a running server at this URL instead of the data directory")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "bearer token sent to --server")
	return cmd
}

func remoteFiles(ctx context.Context, endpoint, apiKey string) ([]query.FileEntry, error) {
	c, err := client.New(client.Config{Endpoint: endpoint, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return c.Files(ctx)
}

func (a *app) localFiles() ([]query.FileEntry, error) {
	reg := a.registry()
	defer reg.Close()

	names, err := reg.Names()
	if err != nil {
		return nil, err
	}
	pending, err := reg.Pending()
	if err != nil {
		return nil, err
	}
	unprocessed := make(map[string]bool, len(pending))
	for _, name := range pending {
		unprocessed[name] = true
	}

	entries := make([]query.FileEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, query.FileEntry{Name: name, Processed: !unprocessed[name]})
	}
	return entries, nil
}
