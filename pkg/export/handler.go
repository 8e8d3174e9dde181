package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/httpx"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/series"
)

// MaxImportBytes bounds a single CSV upload.
const MaxImportBytes = 512 << 20

// Files resolves container names for import and export.
type Files interface {
	SourcePath(name string) string
	Get(ctx context.Context, name string) (*container.File, error)
}

// Handler handles export/import HTTP endpoints
type Handler struct {
	files  Files
	logger *zap.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(files Files, logger *zap.Logger) *Handler {
	return &Handler{files: files, logger: logging.OrNop(logger)}
}

// Routes used by Register
const (
	RouteExport = "/api/v1/files/{file}/series/{series:.+}/export"
	RouteImport = "/api/v1/files/{file}/import"
)

// Register adds the export and import routes to r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(RouteExport, h.HandleExport).Methods(http.MethodGet)
	r.HandleFunc(RouteImport, h.HandleImport).Methods(http.MethodPost)
}

// HandleExport handles GET .../export
// Query params:
//   - format: "json" or "csv" (default: csv)
//   - start, stop: time window in seconds (default: the whole series)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatCSV
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	ranged := query.Get("start") != "" || query.Get("stop") != ""
	var start, stop float64
	if ranged {
		var err error
		if start, stop, err = parseWindow(query.Get("start"), query.Get("stop")); err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	vars := mux.Vars(r)
	f, err := h.files.Get(ctx, vars["file"])
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	coord, err := f.Coordinator(vars["series"])
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	var out *series.Output
	if ranged {
		out, err = coord.RangedOutput(ctx, start, stop)
	} else {
		out, err = coord.FullOutput(ctx)
	}
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	filename := strings.NewReplacer("/", "_", `"`, "").Replace(f.Name() + "-" + vars["series"])
	if format == FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename+"."+format))

	result, err := ExportOutput(w, vars["series"], out, format)
	if err != nil {
		// headers are already sent
		h.logger.Error("export failed", zap.String("series", vars["series"]), zap.Error(err))
		return
	}

	h.logger.Debug("exported series",
		zap.String("file", f.Name()),
		zap.String("series", vars["series"]),
		zap.String("format", format),
		zap.String("source_type", result.SourceType),
		zap.Int("rows", result.RowsExported))
}

// HandleImport handles POST .../import?group=<name> with a CSV body and
// creates a new source container called {file}.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "text/csv") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be text/csv")
		return
	}

	name := mux.Vars(r)["file"]
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, config.PartialSuffix) {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid file name %q", name))
		return
	}

	group := r.URL.Query().Get("group")
	if group == "" {
		group = "data"
	}

	body := http.MaxBytesReader(w, r.Body, MaxImportBytes)
	result, err := ImportSources(r.Context(), h.files.SourcePath(name), []Source{{Group: group, Reader: body}}, h.logger)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, ErrExists):
			httpx.RespondError(w, http.StatusConflict, err)
		case errors.As(err, &tooLarge):
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, ErrDuplicateTime):
			httpx.RespondError(w, http.StatusBadRequest, err)
		default:
			h.logger.Warn("import failed", zap.String("file", name), zap.Error(err))
			httpx.RespondError(w, http.StatusBadRequest, err)
		}
		return
	}

	h.logger.Info("imported file",
		zap.String("file", name),
		zap.Int("series", result.SeriesImported),
		zap.Int("rows", result.RowsImported))
	httpx.RespondJSON(w, http.StatusCreated, result)
}

func parseWindow(startParam, stopParam string) (start, stop float64, err error) {
	start, err = strconv.ParseFloat(startParam, 64)
	if err != nil || math.IsNaN(start) {
		return 0, 0, fmt.Errorf("invalid start %q", startParam)
	}
	stop, err = strconv.ParseFloat(stopParam, 64)
	if err != nil || math.IsNaN(stop) {
		return 0, 0, fmt.Errorf("invalid stop %q", stopParam)
	}
	if stop < start {
		return 0, 0, fmt.Errorf("stop must not be before start")
	}
	return start, stop, nil
}
