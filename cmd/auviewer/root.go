package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/server"
)

// app holds state shared by every command.
type app struct {
	configPath   string
	logLevel     string
	dataDir      string
	processedDir string

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "auviewer",
		Short:         "Multi-resolution time series viewer backend",
		Long:          "auviewer imports recorded time series, builds min/max downsampling levels for them, and serves ranged views and threshold episodes over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       server.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("AUVIEWER_CONFIG"), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory holding source containers")
	cmd.PersistentFlags().StringVar(&a.processedDir, "processed-dir", "", "directory holding processed stores")

	cmd.AddCommand(
		newServeCmd(a),
		newProcessCmd(a),
		newImportCmd(a),
		newFilesCmd(a),
		newSeriesCmd(a),
		newDetectCmd(a),
		newExportCmd(a),
	)
	return cmd
}

// init loads configuration, applies flag overrides and builds the logger.
func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	if a.processedDir != "" {
		cfg.Storage.ProcessedDir = a.processedDir
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

// registry opens the configured data directories
func (a *app) registry() *container.Registry {
	return container.NewRegistry(a.cfg.Storage.DataDir, a.cfg.Storage.ProcessedDir, a.options())
}

func (a *app) options() container.Options {
	return server.ContainerOptions(a.cfg, a.logger)
}
