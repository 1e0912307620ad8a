package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(&Config{
		Level:   level,
		Format:  JSONFormat,
		Output:  buf,
		Service: "convosense",
		Version: "test",
	}), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(line, &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	log, buf := newBufferLogger(InfoLevel)

	log.WithField("conversation_id", "abc").WithFields(map[string]interface{}{"count": 3}).Info("stored %s", "record")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "stored record", entries[0]["message"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "convosense", entries[0]["service"])
	assert.Equal(t, "abc", entries[0]["conversation_id"])
	assert.EqualValues(t, 3, entries[0]["count"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["message"])
	assert.True(t, log.IsLevelEnabled(ErrorLevel))
	assert.False(t, log.IsLevelEnabled(InfoLevel))
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	parent, buf := newBufferLogger(InfoLevel)
	_ = parent.WithField("child", true)

	parent.Info("parent")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	_, ok := entries[0]["child"]
	assert.False(t, ok)
}

func TestWithContextAddsRequestID(t *testing.T) {
	log, buf := newBufferLogger(InfoLevel)
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = context.WithValue(ctx, ConnectionIDKey, "conn-9")

	log.WithContext(ctx).Info("hello")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0]["request_id"])
	assert.Equal(t, "conn-9", entries[0]["connection_id"])
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}

	assert.Equal(t, JSONFormat, ParseLogFormat("JSON"))
	assert.Equal(t, TextFormat, ParseLogFormat("text"))
}

func TestHTTPLoggerMiddleware(t *testing.T) {
	log, buf := newBufferLogger(InfoLevel)
	cfg := DefaultHTTPLogConfig()
	cfg.SkipPaths = []string{"/health"}

	handler := NewHTTPLogger(log, cfg).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", nil)
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-42"))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "POST", entries[0]["http_method"])
	assert.Equal(t, "/api/conversations", entries[0]["http_path"])
	assert.EqualValues(t, http.StatusCreated, entries[0]["http_status"])
	assert.EqualValues(t, 2, entries[0]["http_response_size"])
	assert.Equal(t, "req-42", entries[0]["request_id"])
}

func TestRequestIDFromHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr")
	assert.Equal(t, "corr", RequestIDFromHeaders(req))

	generated := RequestIDFromHeaders(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, generated, 36)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", ClientIP(req))
}
