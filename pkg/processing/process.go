// Package processing builds processed stores for source containers.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/metrics"
	"github.com/autonlab/auviewer/pkg/storage/badger"
)

const statusKey = "status"

// Result describes one ProcessFile call.
type Result struct {
	File     string        `json:"file"`
	Skipped  bool          `json:"skipped"`
	Series   int           `json:"series"`
	Levels   int           `json:"levels"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Status is written into every processed store.
type Status struct {
	Series      int      `json:"series"`
	Levels      int      `json:"levels"`
	Failed      []string `json:"failed,omitempty"`
	ProcessedAt int64    `json:"processed_at"`
}

// ProcessFile builds levels for every series of the source container at src
// into a processed store at dst. It is a no-op when dst exists. The store is
// built at dst.partial and renamed into place only after every series was
// attempted; a leftover dst.partial from an earlier attempt is removed first.
//
// A series that fails is logged and recorded in the store's status; it
// serves raw data. Cancellation aborts the whole file.
func ProcessFile(ctx context.Context, name, src, dst string, opts container.Options) (*Result, error) {
	logger := logging.OrNop(opts.Logger).With(zap.String("file", name))
	start := time.Now()
	result := &Result{File: name}

	if _, err := os.Stat(dst); err == nil {
		result.Skipped = true
		metrics.RecordFileProcessed("skipped")
		return result, nil
	}

	partial := dst + config.PartialSuffix
	if err := os.RemoveAll(partial); err != nil {
		return nil, fmt.Errorf("remove stale %s: %w", partial, err)
	}

	err := build(ctx, name, src, partial, opts, result, logger)
	if err == nil {
		err = os.Rename(partial, dst)
	}
	result.Duration = time.Since(start)

	if err != nil {
		if rerr := os.RemoveAll(partial); rerr != nil {
			logger.Warn("failed to remove partial store", zap.String("path", partial), zap.Error(rerr))
		}
		metrics.RecordFileProcessed("error")
		return nil, fmt.Errorf("process %s: %w", name, err)
	}

	metrics.RecordFileProcessed("success")
	logger.Info("processed file",
		zap.Int("series", result.Series),
		zap.Int("levels", result.Levels),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func build(ctx context.Context, name, src, partial string, opts container.Options, result *Result, logger *zap.Logger) (err error) {
	f, err := container.Open(ctx, name, src, "", opts)
	if err != nil {
		return err
	}
	defer f.Close()

	dst, err := badger.New(badger.Config{
		Path:             partial,
		MaxMemoryMB:      opts.MaxMemoryMB,
		CompressionLevel: opts.CompressionLevel,
		Logger:           opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, s := range f.Series() {
		if err := ctx.Err(); err != nil {
			return err
		}

		coord, err := f.CoordinatorOn(s.ID, dst)
		if err != nil {
			return err
		}
		levels, err := coord.ProcessAndStore(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if err != nil {
			logger.Error("series build failed", zap.String("series", s.ID), zap.Error(err))
			result.Failed = append(result.Failed, s.ID)
			continue
		}
		result.Series++
		result.Levels += levels
	}

	status, err := json.Marshal(Status{
		Series:      result.Series,
		Levels:      result.Levels,
		Failed:      result.Failed,
		ProcessedAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := dst.WriteMeta(ctx, statusKey, status); err != nil {
		return err
	}

	// superseded and staged level data leave value log garbage behind
	if err := dst.RunGC(config.BadgerGCDiscardRatio); err != nil {
		logger.Warn("value log GC failed", zap.Error(err))
	}
	return nil
}
