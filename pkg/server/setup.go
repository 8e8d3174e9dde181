// Package server wires the registry, processing and HTTP handlers into a
// long-running service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/downsample"
	"github.com/autonlab/auviewer/pkg/export"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/processing"
	"github.com/autonlab/auviewer/pkg/query"
	"github.com/autonlab/auviewer/pkg/server/monitor"
)

const shutdownTimeout = 30 * time.Second

// ContainerOptions derives store and hierarchy options from cfg.
func ContainerOptions(cfg *config.Config, logger *zap.Logger) container.Options {
	return container.Options{
		MaxMemoryMB:      cfg.Storage.MaxMemoryMB,
		CompressionLevel: cfg.Storage.CompressionLevel,
		CacheEntries:     cfg.Storage.CacheEntries,
		MaxRawPoints:     cfg.Downsample.MaxRawPoints,
		Hierarchy: downsample.Options{
			IntervalCount:    cfg.Downsample.IntervalCount,
			StepMultiplier:   cfg.Downsample.StepMultiplier,
			RawFallbackRatio: cfg.Downsample.RawFallbackRatio,
			Logger:           logger,
		},
		Logger: logger,
	}
}

// Server is the auviewer HTTP service.
type Server struct {
	cfg    *config.Config
	port   string
	logger *zap.Logger

	registry          *container.Registry
	pool              *processing.Pool
	scheduler         *Scheduler
	hub               *ProgressHub
	processingMonitor *monitor.ProcessingMonitor
	storageMonitor    *monitor.StorageMonitor
	queryHandler      *query.Handler
	exportHandler     *export.Handler
	router            *mux.Router

	// baseCtx outlives requests; on-demand processing runs under it
	baseCtx           context.Context
	cancel            context.CancelFunc
	processingTimeout time.Duration
}

// New creates the data directories and every server component.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	logger = logging.OrNop(logger)

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	opts := ContainerOptions(cfg, logger)
	registry := container.NewRegistry(cfg.Storage.DataDir, cfg.Storage.ProcessedDir, opts)

	hub := NewProgressHub(logger.Named("hub"))
	pool := processing.NewPool(cfg.Processing.Workers, opts)
	pool.OnResult = hub.Publish

	pm := &monitor.ProcessingMonitor{}
	sm := monitor.NewStorageMonitor(cfg.Storage.MaxStorageGB<<30, cfg.Storage.DataDir, cfg.Storage.ProcessedDir)

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:               cfg,
		port:              portOf(cfg.Server.Addr),
		logger:            logger,
		registry:          registry,
		pool:              pool,
		scheduler:         NewScheduler(registry, pool, pm, sm, cfg.Processing.ScanInterval, cfg.Processing.MaxRetries, logger.Named("scheduler")),
		hub:               hub,
		processingMonitor: pm,
		storageMonitor:    sm,
		queryHandler:      query.NewHandler(registry, logger.Named("query")),
		exportHandler:     export.NewHandler(registry, logger.Named("export")),
		router:            mux.NewRouter(),
		baseCtx:           baseCtx,
		cancel:            cancel,
		processingTimeout: config.ProcessingTimeout,
	}
	s.SetupRoutes(s.router)

	logger.Info("server initialized",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("processed_dir", cfg.Storage.ProcessedDir),
		zap.Int("workers", cfg.Processing.Workers),
		zap.Int("interval_count", cfg.Downsample.IntervalCount))
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.port)(s.router)
}

// Registry returns the file registry
func (s *Server) Registry() *container.Registry {
	return s.registry
}

// Run serves HTTP and runs background processing until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(s.baseCtx)
	}()
	go func() {
		defer wg.Done()
		s.scheduler.Run(s.baseCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case serveErr = <-errCh:
		s.logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	s.cancel()
	wg.Wait()

	if err := s.registry.Close(); err != nil {
		s.logger.Warn("failed to close stores", zap.Error(err))
	}
	s.logger.Info("server stopped")
	return serveErr
}
