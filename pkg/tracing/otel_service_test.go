package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	t.Helper()
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	recorder := tracetest.NewSpanRecorder()
	ts, err := NewWithSpanProcessor(cfg, recorder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Stop(context.Background()) })
	return ts, recorder
}

func TestTracingConfig_Validate(t *testing.T) {
	cfg := DefaultTracingConfig()
	assert.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())

	cfg.Exporter = ExporterConsole
	cfg.SampleRate = 2
	assert.Error(t, cfg.Validate())
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(nil)
	require.NoError(t, err)
	assert.False(t, ts.Enabled())

	_, span := ts.StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, ts.HealthCheck(context.Background()))
	assert.NoError(t, ts.Stop(context.Background()))
}

func TestTracingMiddleware_RecordsSpan(t *testing.T) {
	ts, recorder := newRecordingService(t)

	handler := ts.TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/conversations", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestStartSocketSpan(t *testing.T) {
	ts, recorder := newRecordingService(t)

	_, span := ts.StartSocketSpan(context.Background(), "analyze-text", "conn-1")
	RecordError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "socket.analyze-text", spans[0].Name())
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestInjectHeaders(t *testing.T) {
	ts, _ := newRecordingService(t)

	ctx, span := ts.StartKafkaSpan(context.Background(), "publish", "conversations")
	defer span.End()

	headers := InjectHeaders(ctx)
	assert.Contains(t, headers, "traceparent")
}
