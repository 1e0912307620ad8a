package logger

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPLogger wraps an HTTP handler with structured request logging.
type HTTPLogger struct {
	logger *Logger
	config *HTTPLogConfig
}

// HTTPLogConfig configures HTTP logging behavior
type HTTPLogConfig struct {
	// SkipPaths contains path prefixes that are never logged (health checks, metrics)
	SkipPaths []string
	// LogHeaders enables logging of request headers
	LogHeaders bool
	// SanitizeHeaders contains headers whose values are redacted
	SanitizeHeaders []string
}

// DefaultHTTPLogConfig returns the configuration used when none is supplied.
func DefaultHTTPLogConfig() *HTTPLogConfig {
	return &HTTPLogConfig{
		SkipPaths:       []string{"/health", "/metrics"},
		SanitizeHeaders: []string{"authorization", "x-api-key", "cookie", "set-cookie"},
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// NewHTTPLogger creates a new HTTP logger middleware
func NewHTTPLogger(logger *Logger, config *HTTPLogConfig) *HTTPLogger {
	if config == nil {
		config = DefaultHTTPLogConfig()
	}
	return &HTTPLogger{logger: logger, config: config}
}

// Middleware returns the HTTP middleware function
func (hl *HTTPLogger) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hl.shouldSkip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ctx := r.Context()
			if getStringFromContext(ctx, RequestIDKey) == "" {
				ctx = context.WithValue(ctx, RequestIDKey, RequestIDFromHeaders(r))
				r = r.WithContext(ctx)
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			reqLogger := hl.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"http_method":      r.Method,
				"http_path":        r.URL.Path,
				"http_query":       r.URL.RawQuery,
				"http_remote_addr": ClientIP(r),
				"http_user_agent":  r.UserAgent(),
			})
			if hl.config.LogHeaders {
				reqLogger = reqLogger.WithField("http_headers", hl.sanitizeHeaders(r.Header))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			resLogger := reqLogger.WithFields(map[string]interface{}{
				"http_status":        rw.statusCode,
				"http_response_size": rw.size,
				"duration_ms":        float64(duration.Nanoseconds()) / 1e6,
			})

			message := fmt.Sprintf("HTTP %s %s completed", r.Method, r.URL.Path)
			switch {
			case rw.statusCode >= 500:
				resLogger.Error(message)
			case rw.statusCode >= 400:
				resLogger.Warn(message)
			default:
				resLogger.Info(message)
			}
		})
	}
}

func (hl *HTTPLogger) shouldSkip(path string) bool {
	for _, skipPath := range hl.config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func (hl *HTTPLogger) sanitizeHeaders(headers http.Header) map[string]interface{} {
	sanitized := make(map[string]interface{}, len(headers))
	for name, values := range headers {
		lowerName := strings.ToLower(name)
		redact := false
		for _, sensitive := range hl.config.SanitizeHeaders {
			if strings.Contains(lowerName, strings.ToLower(sensitive)) {
				redact = true
				break
			}
		}
		switch {
		case redact:
			sanitized[name] = "[REDACTED]"
		case len(values) == 1:
			sanitized[name] = values[0]
		default:
			sanitized[name] = values
		}
	}
	return sanitized
}

// RequestIDFromHeaders returns the caller supplied request id, or a fresh one.
func RequestIDFromHeaders(r *http.Request) string {
	for _, header := range []string{"X-Request-ID", "X-Correlation-ID", "Request-ID"} {
		if id := r.Header.Get(header); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

// ClientIP extracts the real client IP address
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets the websocket upgrader take over logged connections.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("ResponseWriter does not implement http.Hijacker")
}

// Flush implements http.Flusher interface
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Printf satisfies the gorm logger writer so SQL warnings share the same sink.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.Warn(format, args...)
}
