package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/httpx"
	"github.com/autonlab/auviewer/pkg/metrics"
	"github.com/autonlab/auviewer/pkg/processing"
	"github.com/autonlab/auviewer/pkg/server/monitor"
)

// Version is reported by the health endpoint.
var Version = "dev"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                   `json:"status"`
	Version    string                   `json:"version"`
	Uptime     string                   `json:"uptime"`
	Processing monitor.ProcessingStatus `json:"processing"`
	Cache      container.CacheStats     `json:"cache"`
}

// handleHealth returns service health status.
func handleHealth(pm *monitor.ProcessingMonitor, registry *container.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := pm.Status()
		overall, code := "healthy", http.StatusOK
		if !status.Healthy {
			overall, code = "degraded", http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, code, HealthResponse{
			Status:     overall,
			Version:    Version,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Processing: status,
			Cache:      registry.CacheStats(),
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		used, err := sm.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{UsedBytes: used, MaxBytes: sm.GetLimit()})
	}
}

// handleProcess queues one file for processing and returns immediately.
// The outcome is published to websocket subscribers.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	if _, err := s.registry.Get(r.Context(), name); err != nil {
		httpx.RespondDomainError(w, err)
		return
	}
	if err := s.storageMonitor.Check(); err != nil {
		httpx.RespondError(w, httpx.StatusInsufficientStorage, err)
		return
	}

	job := processing.Job{
		Name:        name,
		Source:      s.registry.SourcePath(name),
		Destination: s.registry.ProcessedPath(name),
	}

	requestID := RequestID(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.processingTimeout)
		defer cancel()
		if _, err := s.pool.Process(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("on-demand processing failed",
				zap.String("file", name),
				zap.String("request_id", requestID),
				zap.Error(err))
		}
	}()

	httpx.RespondJSON(w, http.StatusAccepted, map[string]string{"file": name, "status": "queued"})
}

// SetupRoutes registers every route on router.
func (s *Server) SetupRoutes(router *mux.Router) {
	router.Use(requestMiddleware(s.logger), metricsMiddleware)

	router.HandleFunc("/health", handleHealth(s.processingMonitor, s.registry)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/storage", handleStorageUsage(s.storageMonitor)).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/files/{file}/process", s.handleProcess).Methods(http.MethodPost)

	s.queryHandler.Register(router)
	s.exportHandler.Register(router)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// metricsMiddleware records request counts and latency per route template,
// so series ids never become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

// corsMiddleware allows browser access from localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// portOf returns the port part of a listen address such as ":8080".
func portOf(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return strings.TrimPrefix(addr, ":")
}
