package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/processing"
	"github.com/autonlab/auviewer/pkg/server/monitor"
)

const retryBaseDelay = 30 * time.Second

// Files lists source containers and where their stores live.
type Files interface {
	Pending() ([]string, error)
	SourcePath(name string) string
	ProcessedPath(name string) string
}

// Scheduler processes pending files on an interval.
type Scheduler struct {
	files      Files
	pool       *processing.Pool
	processing *monitor.ProcessingMonitor
	storage    *monitor.StorageMonitor
	interval   time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. storage may be nil to skip the disk limit check.
func NewScheduler(files Files, pool *processing.Pool, pm *monitor.ProcessingMonitor, sm *monitor.StorageMonitor, interval time.Duration, maxRetries int, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = config.DefaultScanInterval
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Scheduler{
		files:      files,
		pool:       pool,
		processing: pm,
		storage:    sm,
		interval:   interval,
		maxRetries: maxRetries,
		baseDelay:  retryBaseDelay,
		logger:     logging.OrNop(logger),
	}
}

// Run scans once at startup and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("processing scheduler started", zap.Duration("interval", s.interval))
	s.runWithRetry(ctx)

	for {
		select {
		case <-ticker.C:
			s.runWithRetry(ctx)
		case <-ctx.Done():
			s.logger.Info("stopping processing scheduler")
			return
		}
	}
}

// runWithRetry rescans with exponential backoff while files keep failing.
// Files that succeeded are no longer pending, so a retry only touches failures.
func (s *Scheduler) runWithRetry(ctx context.Context) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.baseDelay * time.Duration(1<<(attempt-1))
			s.logger.Info("retrying processing",
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", s.maxRetries+1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		err := s.Scan(ctx)
		if err == nil || ctx.Err() != nil || errors.Is(err, monitor.ErrStorageFull) {
			return
		}

		status := s.processing.Status()
		if !status.Healthy {
			s.logger.Error("processing keeps failing", zap.Int("consecutive_errors", status.ConsecutiveErrors))
		}
	}
	s.logger.Warn("processing failed after retries, will retry on next schedule", zap.Int("attempts", s.maxRetries+1))
}

// Scan processes every pending file once. It returns the joined errors of
// the files that failed.
func (s *Scheduler) Scan(ctx context.Context) error {
	pending, err := s.files.Pending()
	if err != nil {
		s.processing.RecordFailure(0, 0, err)
		return fmt.Errorf("list pending files: %w", err)
	}
	s.processing.SetPending(len(pending))
	if len(pending) == 0 {
		return nil
	}

	if s.storage != nil {
		if err := s.storage.Check(); err != nil {
			s.logger.Warn("skipping processing", zap.Int("pending", len(pending)), zap.Error(err))
			s.processing.RecordFailure(0, 0, err)
			return err
		}
	}

	jobs := make([]processing.Job, len(pending))
	for i, name := range pending {
		jobs[i] = processing.Job{
			Name:        name,
			Source:      s.files.SourcePath(name),
			Destination: s.files.ProcessedPath(name),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, config.ProcessingTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.pool.Run(ctx, jobs)
	if err != nil {
		s.processing.RecordFailure(0, 0, err)
		return err
	}

	var errs []error
	processed := 0
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		if !res.Skipped {
			processed++
		}
	}

	failed := len(errs)
	if remaining, err := s.files.Pending(); err == nil {
		s.processing.SetPending(len(remaining))
	}

	if failed > 0 {
		joined := errors.Join(errs...)
		s.processing.RecordFailure(processed, failed, joined)
		s.logger.Warn("processing scan finished with failures",
			zap.Int("processed", processed),
			zap.Int("failed", failed),
			zap.Duration("duration", time.Since(start)))
		return joined
	}

	s.processing.RecordSuccess(processed)
	s.logger.Info("processing scan finished",
		zap.Int("processed", processed),
		zap.Duration("duration", time.Since(start)))
	return nil
}
