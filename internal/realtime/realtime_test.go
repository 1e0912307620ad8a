package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

func newTestHub(t *testing.T, mutate func(*Config)) (*Hub, *httptest.Server, *metrics.ServiceMetrics) {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	analyzer, err := analysis.New(analysis.DefaultConfig())
	require.NoError(t, err)

	m := metrics.NewServiceMetrics(metrics.NewRegistry())
	hub := NewHub(cfg, analyzer, nil, logger.NewNopLogger(), m)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv, m
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, EventConnected, env.Event)
	var ack ConnectedPayload
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	require.NotEmpty(t, ack.ID)
	return conn, ack.ID
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(message, &env))
	return env
}

func readError(t *testing.T, conn *websocket.Conn, event string) string {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, event, env.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload.Message
}

func TestConnect(t *testing.T) {
	hub, srv, m := newTestHub(t, nil)
	dial(t, srv)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), m.RealtimeConnections.Value())
}

func TestAnalyzeText(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	for _, payload := range []interface{}{
		map[string]string{"text": "I am so happy and glad today"},
		"I am so happy and glad today",
	} {
		send(t, conn, EventAnalyzeText, payload)
		env := readEnvelope(t, conn)
		require.Equal(t, EventAnalysisResult, env.Event)

		var result analysis.Result
		require.NoError(t, json.Unmarshal(env.Data, &result))
		assert.Equal(t, 2, result.Emotions.Joy)
		assert.Equal(t, 7, result.Metrics.WordCount)
		assert.Equal(t, "en", result.Language)
	}
}

func TestAnalyzeText_Empty(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	send(t, conn, EventAnalyzeText, map[string]string{"text": "  "})
	assert.Equal(t, "Text is required", readError(t, conn, EventAnalysisError))
}

func TestAnalyzeText_RepliesToSenderOnly(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	sender, _ := dial(t, srv)
	other, _ := dial(t, srv)

	send(t, sender, EventAnalyzeText, map[string]string{"text": "hello"})
	assert.Equal(t, EventAnalysisResult, readEnvelope(t, sender).Event)

	send(t, other, "ping-me", nil)
	assert.Equal(t, "Unknown event: ping-me", readError(t, other, EventError))
}

func TestAnalyzeFace(t *testing.T) {
	hub, srv, _ := newTestHub(t, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return fixed }
	conn, _ := dial(t, srv)

	send(t, conn, EventAnalyzeFace, map[string]interface{}{
		"expressions": map[string]float64{"happy": 0.9},
		"emotion":     "happy",
	})
	env := readEnvelope(t, conn)
	require.Equal(t, EventFaceAnalysisResult, env.Event)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "happy", payload["emotion"])
	assert.Equal(t, "2024-05-01T12:00:00Z", payload["timestamp"])
	assert.NotContains(t, payload, "confidence")
}

func TestAnalyzeImage(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	send(t, conn, EventAnalyzeImage, map[string]string{"image": "data:image/png;base64,AAAA"})
	env := readEnvelope(t, conn)
	require.Equal(t, EventImageAnalysisResult, env.Event)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "data:image/png;base64,AAAA", payload["image"])
	assert.Equal(t, ImageConfidence, payload["confidence"])
	assert.NotEmpty(t, payload["timestamp"])

	send(t, conn, EventAnalyzeImage, "not an object")
	assert.Equal(t, "Failed to analyze image", readError(t, conn, EventAnalysisError))
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	send(t, conn, "does-not-exist", map[string]string{})
	assert.Equal(t, "Unknown event: does-not-exist", readError(t, conn, EventError))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "Invalid message format", readError(t, conn, EventError))
}

func TestRoomsReceiveConversationEvents(t *testing.T) {
	hub, srv, _ := newTestHub(t, nil)
	member, _ := dial(t, srv)
	outsider, _ := dial(t, srv)

	send(t, member, EventJoinConversation, "abc")
	room := RoomName("abc")
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.HandleEvent(ctx, events.NewEvent(events.EventConversationUpdated, "abc", map[string]string{"text": "new"})))

	env := readEnvelope(t, member)
	assert.Equal(t, EventConversationUpdated, env.Event)
	assert.JSONEq(t, `{"text":"new"}`, string(env.Data))

	send(t, outsider, "whoami", nil)
	assert.Equal(t, "Unknown event: whoami", readError(t, outsider, EventError))

	require.NoError(t, hub.HandleEvent(ctx, events.NewEvent(events.EventConversationCreated, "xyz", map[string]string{"_id": "xyz"})))
	assert.Equal(t, EventConversationCreated, readEnvelope(t, member).Event)
	assert.Equal(t, EventConversationCreated, readEnvelope(t, outsider).Event)

	send(t, member, EventLeaveConversation, map[string]string{"conversationId": "abc"})
	require.Eventually(t, func() bool { return hub.RoomSize(room) == 0 }, time.Second, 10*time.Millisecond)
}

func TestJoinRequiresID(t *testing.T) {
	_, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	send(t, conn, EventJoinConversation, map[string]string{})
	assert.Equal(t, "Conversation id is required", readError(t, conn, EventError))
}

func TestDisconnectRemovesClientFromRooms(t *testing.T) {
	hub, srv, m := newTestHub(t, nil)
	conn, _ := dial(t, srv)

	send(t, conn, EventJoinConversation, "room-1")
	require.Eventually(t, func() bool { return hub.RoomSize(RoomName("room-1")) == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, EventDisconnect, nil)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.RoomSize(RoomName("room-1")))
	assert.Equal(t, int64(0), m.RealtimeConnections.Value())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestDisconnectSendsNormalClosureRepeatedly(t *testing.T) {
	hub, srv, _ := newTestHub(t, nil)

	for i := 0; i < 20; i++ {
		conn, _ := dial(t, srv)
		send(t, conn, EventDisconnect, nil)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "attempt %d: got %v", i, err)
	}
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubCloseSendsNormalClosure(t *testing.T) {
	hub, srv, _ := newTestHub(t, nil)
	conn, _ := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestMaxConnections(t *testing.T) {
	hub, srv, _ := newTestHub(t, func(c *Config) { c.MaxConnections = 1 })
	dial(t, srv)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMessageRateLimit(t *testing.T) {
	_, srv, _ := newTestHub(t, func(c *Config) {
		c.MessageRate = 0.01
		c.MessageBurst = 1
	})
	conn, _ := dial(t, srv)

	send(t, conn, "first", nil)
	send(t, conn, "second", nil)
	assert.Equal(t, "Unknown event: first", readError(t, conn, EventError))
	assert.Equal(t, "Rate limit exceeded", readError(t, conn, EventError))
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(Config{AllowedOrigins: []string{"https://app.example.com"}}, nil, nil, logger.NewNopLogger(), nil)

	req := httptest.NewRequest(http.MethodGet, "/socket", nil)
	assert.True(t, hub.checkOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"relative path", func(c *Config) { c.Path = "socket" }, true},
		{"ping not shorter than pong", func(c *Config) { c.PingPeriod = c.PongTimeout }, true},
		{"zero send buffer", func(c *Config) { c.SendBufferSize = 0 }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero message rate", func(c *Config) { c.MessageRate = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}
