package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for processing and queries
var (
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auviewer_series_builds_total",
			Help: "Total number of series hierarchy builds",
		},
		[]string{"result"},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auviewer_series_build_duration_seconds",
			Help:    "Series hierarchy build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	levelsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auviewer_levels_written_total",
			Help: "Total number of resolution levels persisted",
		},
	)

	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auviewer_files_processed_total",
			Help: "Total number of files processed",
		},
		[]string{"result"},
	)

	outputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auviewer_outputs_total",
			Help: "Total number of series outputs served",
		},
		[]string{"kind", "source_type"},
	)

	outputPoints = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auviewer_output_points",
			Help:    "Number of points per series output",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
	)

	episodesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auviewer_episodes_detected_total",
			Help: "Total number of threshold episodes detected",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auviewer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auviewer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordBuild records a finished series build
func RecordBuild(levels int, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	buildsTotal.WithLabelValues(result).Inc()
	buildDuration.Observe(duration.Seconds())
	levelsWritten.Add(float64(levels))
}

// RecordFileProcessed records a processed file by result (success, skipped, error)
func RecordFileProcessed(result string) {
	filesProcessed.WithLabelValues(result).Inc()
}

// RecordOutput records an output served to a client
func RecordOutput(kind, sourceType string, points int) {
	outputsTotal.WithLabelValues(kind, sourceType).Inc()
	outputPoints.Observe(float64(points))
}

// RecordEpisodes records detected episodes
func RecordEpisodes(count int) {
	episodesDetected.Add(float64(count))
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}
