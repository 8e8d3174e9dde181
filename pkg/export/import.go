package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/raw"
	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/badger"
)

// TimeColumn is the CSV header naming the time column. Without it, the
// first column holds time.
const TimeColumn = "time"

// ErrDuplicateTime is returned when a CSV repeats a timestamp.
var ErrDuplicateTime = errors.New("duplicate timestamp")

// Importer writes CSV groups into a source store and records their series.
type Importer struct {
	storage storage.Storage
	series  []raw.Series
	logger  *zap.Logger
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage, logger *zap.Logger) *Importer {
	return &Importer{storage: store, logger: logging.OrNop(logger)}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Groups         []string  `json:"groups"`
	SeriesImported int       `json:"series_imported"`
	RowsImported   int       `json:"rows_imported"`
	Skipped        []string  `json:"skipped,omitempty"`
	ImportedAt     time.Time `json:"imported_at"`
}

func (r *ImportResult) merge(other *ImportResult) {
	r.Groups = append(r.Groups, other.Groups...)
	r.SeriesImported += other.SeriesImported
	r.RowsImported += other.RowsImported
	r.Skipped = append(r.Skipped, other.Skipped...)
}

// ImportCSV reads one CSV table into group. Every numeric column becomes a
// series sharing the group's time column; columns holding any non-numeric
// cell are skipped. Empty cells become NaN. Time values may be seconds or
// RFC3339 timestamps. Rows are sorted by time.
func (im *Importer) ImportCSV(ctx context.Context, group string, r io.Reader) (*ImportResult, error) {
	group = sanitize(group)
	if group == "" {
		return nil, fmt.Errorf("empty group name")
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	timeIdx := 0
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), TimeColumn) {
			timeIdx = i
			break
		}
	}

	numeric := make([]bool, len(header))
	for i := range header {
		numeric[i] = i != timeIdx
	}

	var times []float64
	columns := make([][]float64, len(header))
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		t, err := parseTime(record[timeIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		times = append(times, t)

		for i, cell := range record {
			if !numeric[i] {
				continue
			}
			v, ok := parseValue(cell)
			if !ok {
				numeric[i] = false
				columns[i] = nil
				continue
			}
			columns[i] = append(columns[i], v)
		}
	}

	order, err := timeOrder(times)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", group, err)
	}

	result := &ImportResult{Groups: []string{group}, RowsImported: len(times), ImportedAt: time.Now()}
	timePath := storage.Join(group, TimeColumn)
	if err := im.storage.WriteArray(ctx, timePath, storage.NewArray(permute(times, order))); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", timePath, err)
	}

	for i, name := range header {
		if i == timeIdx {
			continue
		}
		col := sanitize(name)
		if col == "" {
			col = fmt.Sprintf("col%d", i)
		}
		if !numeric[i] || col == TimeColumn {
			result.Skipped = append(result.Skipped, storage.Join(group, col))
			continue
		}

		path := storage.Join(group, col)
		if err := im.storage.WriteArray(ctx, path, storage.NewArray(permute(columns[i], order))); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		im.series = append(im.series, raw.Series{ID: path, TimePath: timePath, ValuePath: path})
		result.SeriesImported++
	}

	im.logger.Info("imported group",
		zap.String("group", group),
		zap.Int("rows", result.RowsImported),
		zap.Int("series", result.SeriesImported),
		zap.Strings("skipped", result.Skipped))
	return result, nil
}

// Finish writes the schema of every imported series
func (im *Importer) Finish(ctx context.Context) error {
	return container.WriteSchema(ctx, im.storage, &container.Schema{
		Series:    im.series,
		CreatedAt: time.Now().Unix(),
	})
}

// ErrExists is returned when an import targets an existing container.
var ErrExists = errors.New("container already exists")

// Source is one CSV table to import as a group.
type Source struct {
	Group  string
	Reader io.Reader
}

// ImportFiles creates a source container at dst from CSV files, one group per
// file named after it.
func ImportFiles(ctx context.Context, dst string, paths []string, logger *zap.Logger) (*ImportResult, error) {
	sources := make([]Source, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		group := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		sources = append(sources, Source{Group: group, Reader: f})
	}
	return ImportSources(ctx, dst, sources, logger)
}

// ImportSources creates a source container at dst. The container is written
// under a partial name and renamed into place once its schema is stored, so
// dst never holds a half-written container.
func ImportSources(ctx context.Context, dst string, sources []Source, logger *zap.Logger) (*ImportResult, error) {
	if _, err := os.Stat(dst); err == nil {
		return nil, fmt.Errorf("%s: %w", dst, ErrExists)
	}

	partial := dst + config.PartialSuffix
	if err := os.RemoveAll(partial); err != nil {
		return nil, fmt.Errorf("remove stale partial %s: %w", partial, err)
	}

	store, err := badger.New(badger.Config{Path: partial, Logger: logger})
	if err != nil {
		return nil, err
	}

	result, err := importSources(ctx, store, sources, logger)
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(partial, dst)
	}
	if err != nil {
		os.RemoveAll(partial)
		return nil, err
	}
	return result, nil
}

func importSources(ctx context.Context, store storage.Storage, sources []Source, logger *zap.Logger) (*ImportResult, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("nothing to import")
	}

	im := NewImporter(store, logger)
	total := &ImportResult{ImportedAt: time.Now()}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := im.ImportCSV(ctx, src.Group, src.Reader)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", src.Group, err)
		}
		total.merge(res)
	}

	if err := im.Finish(ctx); err != nil {
		return nil, err
	}
	return total, nil
}

func parseTime(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if v, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, cell)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", cell)
	}
	return float64(ts.UnixNano()) / 1e9, nil
}

func parseValue(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	if math.IsInf(v, 0) {
		return math.NaN(), true
	}
	return v, true
}

// timeOrder returns the permutation sorting times, or nil when already sorted.
func timeOrder(times []float64) ([]int, error) {
	if sort.Float64sAreSorted(times) {
		for i := 1; i < len(times); i++ {
			if times[i] == times[i-1] {
				return nil, fmt.Errorf("%w: %g", ErrDuplicateTime, times[i])
			}
		}
		return nil, nil
	}

	order := make([]int, len(times))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]] < times[order[b]] })
	for i := 1; i < len(order); i++ {
		if times[order[i]] == times[order[i-1]] {
			return nil, fmt.Errorf("%w: %g", ErrDuplicateTime, times[order[i]])
		}
	}
	return order, nil
}

func permute(values []float64, order []int) []float64 {
	if order == nil {
		return values
	}
	out := make([]float64, len(order))
	for i, j := range order {
		out[i] = values[j]
	}
	return out
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, `\`, "_")
	return name
}
