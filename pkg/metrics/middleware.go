package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPMetrics collects HTTP-related metrics
type HTTPMetrics struct {
	registry          *MetricsRegistry
	responseSize      *Histogram
	activeConnections *Gauge
}

// NewHTTPMetrics creates a new HTTP metrics collector
func NewHTTPMetrics(registry *MetricsRegistry) *HTTPMetrics {
	if registry == nil {
		registry = GetRegistry()
	}

	return &HTTPMetrics{
		registry: registry,
		responseSize: registry.NewHistogram(
			"http_response_size_bytes",
			"HTTP response size in bytes",
			[]float64{100, 1000, 10000, 100000, 1000000},
			nil,
		),
		activeConnections: registry.NewGauge(
			"http_active_requests",
			"Number of in-flight HTTP requests",
			nil,
		),
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (mrw *metricsResponseWriter) WriteHeader(statusCode int) {
	mrw.statusCode = statusCode
	mrw.ResponseWriter.WriteHeader(statusCode)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	size, err := mrw.ResponseWriter.Write(b)
	mrw.size += size
	return size, err
}

func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := mrw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}

// Middleware returns HTTP middleware that collects metrics
func (hm *HTTPMetrics) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hm.registry.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			hm.activeConnections.Inc()
			defer hm.activeConnections.Dec()

			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(mrw, r)

			path := normalizePath(r.URL.Path)
			status := strconv.Itoa(mrw.statusCode)

			hm.registry.NewCounter(
				"http_requests_total",
				"Total number of HTTP requests",
				map[string]string{
					"method":       r.Method,
					"path":         path,
					"status":       status,
					"status_class": fmt.Sprintf("%dxx", mrw.statusCode/100),
				},
			).Inc()

			hm.registry.NewHistogram(
				"http_request_duration_seconds",
				"HTTP request duration in seconds",
				[]float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0},
				map[string]string{"method": r.Method, "path": path},
			).ObserveDuration(start)

			if mrw.size > 0 {
				hm.responseSize.Observe(float64(mrw.size))
			}
		})
	}
}

// normalizePath replaces record ids so per-path metrics stay bounded.
func normalizePath(path string) string {
	if path == "/health" || path == "/metrics" {
		return path
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil && len(part) == 36 {
			parts[i] = "{id}"
		} else if isNumericID(part) {
			parts[i] = "{id}"
		}
	}

	normalized := strings.Join(parts, "/")
	if len(normalized) > 100 {
		normalized = normalized[:100] + "..."
	}
	return normalized
}

func isNumericID(s string) bool {
	if len(s) == 0 || len(s) > 20 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
