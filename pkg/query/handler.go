// Package query serves series outputs and threshold detection over HTTP.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/config"
	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/detect"
	"github.com/autonlab/auviewer/pkg/httpx"
	"github.com/autonlab/auviewer/pkg/logging"
	"github.com/autonlab/auviewer/pkg/series"
)

// Files resolves file names to open containers.
type Files interface {
	Names() ([]string, error)
	Pending() ([]string, error)
	Get(ctx context.Context, name string) (*container.File, error)
}

// Handler handles series query requests
type Handler struct {
	files  Files
	logger *zap.Logger
}

// NewHandler creates a new query handler
func NewHandler(files Files, logger *zap.Logger) *Handler {
	return &Handler{files: files, logger: logging.OrNop(logger)}
}

// Routes used by Register. Series ids contain slashes, so the series
// variable matches across path segments.
const (
	RouteFiles    = "/api/v1/files"
	RouteSeries   = "/api/v1/files/{file}/series"
	RouteOutput   = "/api/v1/files/{file}/series/{series:.+}/output"
	RouteFull     = "/api/v1/files/{file}/series/{series:.+}/full"
	RouteEpisodes = "/api/v1/files/{file}/series/{series:.+}/episodes"
)

// Register adds the query routes to r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc(RouteFiles, h.HandleListFiles).Methods(http.MethodGet)
	r.HandleFunc(RouteSeries, h.HandleListSeries).Methods(http.MethodGet)
	r.HandleFunc(RouteOutput, h.HandleRangedOutput).Methods(http.MethodGet)
	r.HandleFunc(RouteFull, h.HandleFullOutput).Methods(http.MethodGet)
	r.HandleFunc(RouteEpisodes, h.HandleEpisodes).Methods(http.MethodPost)
}

// FileEntry is one row of the file listing
type FileEntry struct {
	Name      string `json:"name"`
	Processed bool   `json:"processed"`
}

// HandleListFiles handles GET /api/v1/files
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := h.files.Names()
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	pending, err := h.files.Pending()
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	unprocessed := make(map[string]bool, len(pending))
	for _, name := range pending {
		unprocessed[name] = true
	}

	entries := make([]FileEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, FileEntry{Name: name, Processed: !unprocessed[name]})
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"files": entries})
}

// HandleListSeries handles GET /api/v1/files/{file}/series
func (h *Handler) HandleListSeries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.ListTimeout)
	defer cancel()

	f, err := h.files.Get(ctx, mux.Vars(r)["file"])
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	infos, err := f.Describe(ctx)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"file":   f.Name(),
		"series": infos,
	})
}

// HandleRangedOutput handles GET .../output?start=&stop=
func (h *Handler) HandleRangedOutput(w http.ResponseWriter, r *http.Request) {
	start, stop, err := parseWindow(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	coord, err := h.coordinator(ctx, r)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	out, err := coord.RangedOutput(ctx, start, stop)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

// HandleFullOutput handles GET .../full
func (h *Handler) HandleFullOutput(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	coord, err := h.coordinator(ctx, r)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	out, err := coord.FullOutput(ctx)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

// EpisodesResponse is the detection result
type EpisodesResponse struct {
	Episodes []detect.Episode `json:"episodes"`
}

// HandleEpisodes handles POST .../episodes with a DetectRequest body
func (h *Handler) HandleEpisodes(w http.ResponseWriter, r *http.Request) {
	var req series.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DetectTimeout)
	defer cancel()

	coord, err := h.coordinator(ctx, r)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	episodes, err := coord.DetectEpisodes(ctx, req)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	h.logger.Debug("detected episodes",
		zap.String("series", coord.Series().ID),
		zap.Int("episodes", len(episodes)))
	httpx.RespondJSON(w, http.StatusOK, EpisodesResponse{Episodes: episodes})
}

func (h *Handler) coordinator(ctx context.Context, r *http.Request) (*series.Coordinator, error) {
	vars := mux.Vars(r)
	f, err := h.files.Get(ctx, vars["file"])
	if err != nil {
		return nil, err
	}
	return f.Coordinator(vars["series"])
}

// parseWindow reads the start and stop query parameters
func parseWindow(r *http.Request) (start, stop float64, err error) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("stop") == "" {
		return 0, 0, fmt.Errorf("start and stop are required")
	}
	start, err = strconv.ParseFloat(q.Get("start"), 64)
	if err != nil || math.IsNaN(start) {
		return 0, 0, fmt.Errorf("invalid start %q", q.Get("start"))
	}
	stop, err = strconv.ParseFloat(q.Get("stop"), 64)
	if err != nil || math.IsNaN(stop) {
		return 0, 0, fmt.Errorf("invalid stop %q", q.Get("stop"))
	}
	if stop < start {
		return 0, 0, fmt.Errorf("stop must not be before start")
	}
	return start, stop, nil
}
