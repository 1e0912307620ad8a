package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/internal/store"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	router    *mux.Router
	repo      *store.MemoryRepository
	publisher *capturePublisher
	metrics   *metrics.ServiceMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := store.NewMemoryRepository(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	})

	analyzer, err := analysis.New(analysis.DefaultConfig(), analysis.WithLogger(logger.NewNopLogger()))
	require.NoError(t, err)

	pub := &capturePublisher{}
	m := metrics.NewServiceMetrics(metrics.NewRegistry())

	router := mux.NewRouter()
	NewConversationHandler(repo, analyzer, pub, logger.NewNopLogger(), m, DefaultPaging()).RegisterRoutes(router)
	NewAnalysisHandler(analyzer).RegisterRoutes(router)

	return &testEnv{router: router, repo: repo, publisher: pub, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(logger.ContextWithRequestID(req.Context(), "req-test"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) count(t *testing.T) int64 {
	t.Helper()
	_, total, err := e.repo.Find(context.Background(), store.Filter{}, store.Page{Number: 1, Size: 1})
	require.NoError(t, err)
	return total
}

func TestCreateConversation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/conversations", `{"text":"I am so happy and glad today"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	conv := decode[store.Conversation](t, rec)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "I am so happy and glad today", conv.Text)
	require.NotNil(t, conv.Sentiment)
	assert.Equal(t, 6, conv.Sentiment.Score)
	require.NotNil(t, conv.Emotions)
	assert.Equal(t, 2, conv.Emotions.Joy)
	require.NotNil(t, conv.Context)
	assert.Equal(t, "en", conv.Language)
	assert.False(t, conv.CreatedAt.IsZero())
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)

	assert.Equal(t, []string{events.EventConversationCreated}, env.publisher.types())
	assert.Equal(t, "req-test", env.publisher.events[0].RequestID)
	assert.Equal(t, int64(1), env.metrics.ConversationsCreated.Value())
}

func TestCreateConversation_RejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{`{"text":""}`, `{"text":"   "}`, `{}`} {
		rec := env.do(t, http.MethodPost, "/conversations", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)

		errBody := decode[response.ErrorResponse](t, rec)
		assert.False(t, errBody.Success)
		assert.Equal(t, response.ErrorCodeValidationError, errBody.Error.Code)
		assert.Equal(t, "req-test", errBody.RequestID)
	}

	assert.Equal(t, int64(0), env.count(t))
	assert.Empty(t, env.publisher.types())
}

func TestCreateConversation_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/conversations", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrorCodeBadRequest, decode[response.ErrorResponse](t, rec).Error.Code)
}

func TestCreateThenGet(t *testing.T) {
	env := newTestEnv(t)

	created := decode[store.Conversation](t, env.do(t, http.MethodPost, "/conversations",
		`{"text":"This is urgent, please respond ASAP about the project deadline"}`))

	rec := env.do(t, http.MethodGet, "/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.Conversation](t, rec)

	assert.Equal(t, created.Text, got.Text)
	assert.Equal(t, created.Sentiment, got.Sentiment)
	assert.Equal(t, created.Emotions, got.Emotions)
	assert.Equal(t, created.Context, got.Context)
	assert.Equal(t, analysis.UrgencyHigh, got.Context.Urgency)
}

func TestGetConversation_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/conversations/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.ErrorCodeConversationMissing, decode[response.ErrorResponse](t, rec).Error.Code)
}

func TestListConversations_Pagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 25; i++ {
		rec := env.do(t, http.MethodPost, "/conversations", fmt.Sprintf(`{"text":"message %d"}`, i))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/conversations?page=2&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[ConversationPage](t, rec)

	assert.Len(t, page.Conversations, 10)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, int64(25), page.TotalItems)
	assert.Equal(t, "message 14", page.Conversations[0].Text)
	for i := 1; i < len(page.Conversations); i++ {
		assert.True(t, page.Conversations[i-1].CreatedAt.After(page.Conversations[i].CreatedAt))
	}
}

func TestListConversations_HugePage(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/conversations", fmt.Sprintf(`{"text":"entry %d"}`, i)).Code)
	}

	for _, query := range []string{
		"?page=1000000000000000000&limit=10",
		"?page=9223372036854775807&limit=100",
		"?page=4611686018427387904&limit=3",
	} {
		t.Run(query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/conversations"+query, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, `[]`, string(decode[map[string]json.RawMessage](t, rec)["conversations"]))

			page := decode[ConversationPage](t, rec)
			assert.Equal(t, int64(3), page.TotalItems)
			assert.Equal(t, 1, page.TotalPages)
		})
	}
}

func TestListConversations_Defaults(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		env.do(t, http.MethodPost, "/conversations", fmt.Sprintf(`{"text":"note %d"}`, i))
	}

	tests := []struct {
		query     string
		wantLen   int
		wantPage  int
		wantPages int
	}{
		{"", 10, 1, 2},
		{"?page=abc&limit=xyz", 10, 1, 2},
		{"?page=0&limit=-5", 10, 1, 2},
		{"?limit=1000", 12, 1, 1},
		{"?page=5", 0, 5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			page := decode[ConversationPage](t, env.do(t, http.MethodGet, "/conversations"+tt.query, ""))
			assert.Len(t, page.Conversations, tt.wantLen)
			assert.NotNil(t, page.Conversations)
			assert.Equal(t, tt.wantPage, page.CurrentPage)
			assert.Equal(t, tt.wantPages, page.TotalPages)
		})
	}
}

func TestListConversations_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/conversations", `{"text":"The server crashed again"}`)
	env.do(t, http.MethodPost, "/conversations", `{"text":"Lunch with family"}`)

	page := decode[ConversationPage](t, env.do(t, http.MethodGet, "/conversations?searchText=SERVER", ""))
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "The server crashed again", page.Conversations[0].Text)

	page = decode[ConversationPage](t, env.do(t, http.MethodGet, "/conversations?startDate=2030-01-01", ""))
	assert.Empty(t, page.Conversations)

	page = decode[ConversationPage](t, env.do(t, http.MethodGet, "/conversations?endDate=2030-01-01T00:00:00Z", ""))
	assert.Len(t, page.Conversations, 2)

	rec := env.do(t, http.MethodGet, "/conversations?startDate=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateConversation(t *testing.T) {
	env := newTestEnv(t)
	created := decode[store.Conversation](t, env.do(t, http.MethodPost, "/conversations", `{"text":"I feel sad"}`))

	rec := env.do(t, http.MethodPut, "/conversations/"+created.ID, `{"text":"I feel happy now"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[store.Conversation](t, rec)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "I feel happy now", updated.Text)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Greater(t, updated.Sentiment.Score, 0)
	assert.Equal(t, []string{events.EventConversationCreated, events.EventConversationUpdated}, env.publisher.types())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/conversations/missing", `{"text":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/conversations/"+created.ID, `{"text":""}`).Code)
}

func TestDeleteConversation(t *testing.T) {
	env := newTestEnv(t)
	created := decode[store.Conversation](t, env.do(t, http.MethodPost, "/conversations", `{"text":"short lived"}`))

	rec := env.do(t, http.MethodDelete, "/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(1), env.count(t))

	rec = env.do(t, http.MethodDelete, "/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[DeleteResponse](t, rec)
	assert.Equal(t, created.ID, body.ID)
	assert.Equal(t, int64(0), env.count(t))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/conversations/"+created.ID, "").Code)
	assert.Contains(t, env.publisher.types(), events.EventConversationDeleted)
}

func TestGetStatistics(t *testing.T) {
	env := newTestEnv(t)

	stats := decode[store.Statistics](t, env.do(t, http.MethodGet, "/statistics", ""))
	assert.Equal(t, store.Statistics{}, stats)

	env.do(t, http.MethodPost, "/conversations", `{"text":"happy happy"}`)
	env.do(t, http.MethodPost, "/conversations", `{"text":"sad"}`)

	stats = decode[store.Statistics](t, env.do(t, http.MethodGet, "/statistics", ""))
	assert.Equal(t, int64(2), stats.TotalConversations)
	assert.InDelta(t, 2.0, stats.AverageSentiment, 1e-9)
	assert.InDelta(t, 0.5, stats.EmotionAverages.Joy, 1e-9)
	assert.InDelta(t, 0.5, stats.EmotionAverages.Sadness, 1e-9)
}

func TestAnalyzeEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/analyze", `{"text":"I am so happy and glad today"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[analysis.Result](t, rec)
	assert.Equal(t, 7, result.Metrics.WordCount)
	assert.Equal(t, 2, result.Emotions.Joy)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, int64(0), env.count(t), "analysis does not persist")

	rec = env.do(t, http.MethodPost, "/analyze/context", `{"text":"Please find the project meeting notes, kind regards"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	ctx := decode[analysis.Context](t, rec)
	assert.Equal(t, analysis.FormalityFormal, ctx.Formality)
	assert.Equal(t, analysis.TopicBusiness, ctx.Topic)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/analyze", `{"text":" "}`).Code)
}

func TestDecodeText_BodyTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"text":"`+strings.Repeat("a", 64)+`"}`))
	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 16)

	_, err := decodeText(req)
	require.Error(t, err)
	writeDecodeError(response.NewResponseWriter(rec, ""), err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
