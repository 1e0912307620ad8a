package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP endpoints for health checks
type Handler struct {
	checker *HealthChecker
	service string
	version string
}

// NewHandler creates a new health check HTTP handler
func NewHandler(checker *HealthChecker, service, version string) *Handler {
	return &Handler{
		checker: checker,
		service: service,
		version: version,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthCheckHandler reports overall status; ?detailed=true includes each check.
func (h *Handler) HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.checker.Check(r.Context(), h.service, h.version)

		statusCode := http.StatusOK
		if report.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("X-Health-Check-Duration", report.Duration.String())
		if r.URL.Query().Get("detailed") == "true" {
			writeJSON(w, statusCode, report)
			return
		}
		writeJSON(w, statusCode, map[string]interface{}{
			"status":    report.Status,
			"timestamp": report.Timestamp,
			"version":   report.Version,
			"service":   report.Service,
			"summary":   report.Summary,
		})
	}
}

// ReadinessHandler is ready when every critical check is healthy.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.checker.Check(r.Context(), h.service, h.version)

		statusCode, status := http.StatusOK, "ready"
		if report.Critical {
			statusCode, status = http.StatusServiceUnavailable, "not ready"
		}
		writeJSON(w, statusCode, map[string]interface{}{
			"status":    status,
			"ready":     !report.Critical,
			"timestamp": time.Now(),
			"service":   h.service,
			"version":   h.version,
		})
	}
}

// LivenessHandler always answers while the process is serving.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "alive",
			"timestamp": time.Now(),
			"service":   h.service,
			"version":   h.version,
		})
	}
}

// RegisterRoutes mounts the health endpoints under basePath.
func (h *Handler) RegisterRoutes(router *mux.Router, basePath string) {
	if basePath == "" {
		basePath = "/health"
	}
	router.HandleFunc(basePath, h.HealthCheckHandler()).Methods(http.MethodGet)
	router.HandleFunc(basePath+"/ready", h.ReadinessHandler()).Methods(http.MethodGet)
	router.HandleFunc(basePath+"/live", h.LivenessHandler()).Methods(http.MethodGet)
}
