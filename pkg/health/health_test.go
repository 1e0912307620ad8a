package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	hc := NewHealthChecker(0)
	hc.AddChecker(PingChecker("store", true, func(ctx context.Context) error { return nil }))
	hc.AddChecker(CapacityChecker("realtime", func() int { return 1 }, 10, 0.9))

	report := hc.Check(context.Background(), "svc", "1.0.0")
	assert.Equal(t, StatusHealthy, report.Status)
	assert.False(t, report.Critical)
	assert.Equal(t, 2, report.Summary[StatusHealthy])
	assert.Equal(t, []string{"realtime", "store"}, hc.Names())
}

func TestHealthChecker_CriticalFailure(t *testing.T) {
	hc := NewHealthChecker(0)
	hc.AddChecker(PingChecker("store", true, func(ctx context.Context) error { return errors.New("down") }))

	report := hc.Check(context.Background(), "svc", "1.0.0")
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.True(t, report.Critical)
	assert.Equal(t, "down", report.Checks["store"].Error)
}

func TestHealthChecker_Degraded(t *testing.T) {
	hc := NewHealthChecker(0)
	hc.AddChecker(CapacityChecker("realtime", func() int { return 95 }, 100, 0.9))

	report := hc.Check(context.Background(), "svc", "1.0.0")
	assert.Equal(t, StatusDegraded, report.Status)
	assert.False(t, report.Critical)
}

func TestHealthChecker_PanicIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker(0)
	hc.AddChecker(NewChecker("boom", false, func(ctx context.Context) CheckResult { panic("bad") }))

	report := hc.Check(context.Background(), "svc", "1.0.0")
	require.Contains(t, report.Checks, "boom")
	assert.Equal(t, StatusUnhealthy, report.Checks["boom"].Status)
	assert.Contains(t, report.Checks["boom"].Error, "bad")
}

func TestHandler_Routes(t *testing.T) {
	hc := NewHealthChecker(0)
	failing := false
	hc.AddChecker(PingChecker("store", true, func(ctx context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}))

	router := mux.NewRouter()
	NewHandler(hc, "svc", "1.0.0").RegisterRoutes(router, "")

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health?detailed=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.Checks, "store")

	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	assert.Equal(t, http.StatusOK, get("/health/ready").Code)

	failing = true
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health/ready").Code)
}
