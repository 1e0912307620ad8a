package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/internal/store"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

// ConversationHandler serves the conversation CRUD and statistics endpoints.
type ConversationHandler struct {
	repo      store.Repository
	analyzer  *analysis.Analyzer
	publisher events.Publisher
	logger    *logger.Logger
	metrics   *metrics.ServiceMetrics
	paging    Paging
}

// ConversationPage is one page of GET /conversations.
type ConversationPage struct {
	Conversations []*store.Conversation `json:"conversations"`
	TotalPages    int                   `json:"totalPages"`
	CurrentPage   int                   `json:"currentPage"`
	TotalItems    int64                 `json:"totalItems"`
}

// DeleteResponse confirms a deletion.
type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// NewConversationHandler wires the handler. publisher, log and m may be nil.
func NewConversationHandler(repo store.Repository, analyzer *analysis.Analyzer, publisher events.Publisher,
	log *logger.Logger, m *metrics.ServiceMetrics, paging Paging) *ConversationHandler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	if paging.DefaultSize <= 0 {
		paging.DefaultSize = DefaultPaging().DefaultSize
	}
	if paging.MaxSize < paging.DefaultSize {
		paging.MaxSize = paging.DefaultSize
	}
	return &ConversationHandler{
		repo:      repo,
		analyzer:  analyzer,
		publisher: publisher,
		logger:    log.WithField("component", "conversation_handler"),
		metrics:   m,
		paging:    paging,
	}
}

// RegisterRoutes mounts the handler on router.
func (h *ConversationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	router.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}", h.GetConversation).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}", h.UpdateConversation).Methods(http.MethodPut)
	router.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods(http.MethodDelete)
	router.HandleFunc("/statistics", h.GetStatistics).Methods(http.MethodGet)
}

// CreateConversation handles POST /conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	text, err := decodeText(r)
	if err != nil {
		writeDecodeError(rw, err)
		return
	}

	full, err := h.analyzer.AnalyzeFull(r.Context(), text)
	if err != nil {
		rw.Error(http.StatusInternalServerError, response.ErrorCodeAnalysisFailed, "Failed to analyze text", nil)
		return
	}

	conv := store.NewConversation(text, full)
	if err := h.repo.Create(r.Context(), conv); err != nil {
		h.logger.WithContext(r.Context()).WithField("error", err.Error()).Error("Failed to save conversation")
		rw.InternalServerError("Failed to save conversation", nil)
		return
	}

	if h.metrics != nil {
		h.metrics.ConversationsCreated.Inc()
	}
	h.publish(r.Context(), events.EventConversationCreated, conv.ID, conv)
	rw.Created(conv)
}

// ListConversations handles GET /conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	q := r.URL.Query()

	page := positiveInt(q.Get("page"), 1)
	limit := positiveInt(q.Get("limit"), h.paging.DefaultSize)
	if limit > h.paging.MaxSize {
		limit = h.paging.MaxSize
	}
	if maxPage := math.MaxInt/limit + 1; page > maxPage {
		page = maxPage
	}

	start, err := parseDate(q.Get("startDate"))
	if err != nil {
		rw.BadRequest("Invalid startDate", err.Error())
		return
	}
	end, err := parseDate(q.Get("endDate"))
	if err != nil {
		rw.BadRequest("Invalid endDate", err.Error())
		return
	}

	filter := store.Filter{StartDate: start, EndDate: end, SearchText: q.Get("searchText")}
	convs, total, err := h.repo.Find(r.Context(), filter, store.Page{Number: page, Size: limit})
	if err != nil {
		h.logger.WithContext(r.Context()).WithField("error", err.Error()).Error("Failed to list conversations")
		rw.InternalServerError("Failed to fetch conversations", nil)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}

	rw.OK(ConversationPage{
		Conversations: convs,
		TotalPages:    int((total + int64(limit) - 1) / int64(limit)),
		CurrentPage:   page,
		TotalItems:    total,
	})
}

// GetConversation handles GET /conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	conv, err := h.repo.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(rw, r, err, "Failed to fetch conversation")
		return
	}
	rw.OK(conv)
}

// UpdateConversation handles PUT /conversations/{id}; the new text is re-analyzed.
func (h *ConversationHandler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	id := mux.Vars(r)["id"]

	text, err := decodeText(r)
	if err != nil {
		writeDecodeError(rw, err)
		return
	}

	conv, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		h.writeStoreError(rw, r, err, "Failed to fetch conversation")
		return
	}

	full, err := h.analyzer.AnalyzeFull(r.Context(), text)
	if err != nil {
		rw.Error(http.StatusInternalServerError, response.ErrorCodeAnalysisFailed, "Failed to analyze text", nil)
		return
	}

	conv.Text = text
	conv.ApplyAnalysis(full)
	if err := h.repo.Update(r.Context(), conv); err != nil {
		h.writeStoreError(rw, r, err, "Failed to update conversation")
		return
	}

	if h.metrics != nil {
		h.metrics.ConversationsUpdated.Inc()
	}
	h.publish(r.Context(), events.EventConversationUpdated, conv.ID, conv)
	rw.OK(conv)
}

// DeleteConversation handles DELETE /conversations/{id}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	id := mux.Vars(r)["id"]

	if err := h.repo.DeleteByID(r.Context(), id); err != nil {
		h.writeStoreError(rw, r, err, "Failed to delete conversation")
		return
	}

	if h.metrics != nil {
		h.metrics.ConversationsDeleted.Inc()
	}
	h.publish(r.Context(), events.EventConversationDeleted, id, map[string]string{"id": id})
	rw.OK(DeleteResponse{Message: "Conversation deleted successfully", ID: id})
}

// GetStatistics handles GET /statistics
func (h *ConversationHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	rw := responder(w, r)
	stats, err := h.repo.AggregateAverages(r.Context())
	if err != nil {
		h.logger.WithContext(r.Context()).WithField("error", err.Error()).Error("Failed to aggregate statistics")
		rw.InternalServerError("Failed to fetch statistics", nil)
		return
	}
	rw.OK(stats)
}

func (h *ConversationHandler) writeStoreError(rw *response.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		rw.Error(http.StatusNotFound, response.ErrorCodeConversationMissing, "Conversation not found", nil)
		return
	}
	if errors.Is(err, store.ErrEmptyText) {
		rw.ValidationError("Text is required", map[string]string{"field": "text"})
		return
	}
	h.logger.WithContext(r.Context()).WithField("error", err.Error()).Error(message)
	rw.InternalServerError(message, nil)
}

// publish notifies subscribers; failures are logged and never fail the request.
func (h *ConversationHandler) publish(ctx context.Context, eventType, id string, data interface{}) {
	event := events.NewEvent(eventType, id, data)
	event.RequestID = logger.RequestIDFromContext(ctx)
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"event_type":      eventType,
			"conversation_id": id,
			"error":           err.Error(),
		}).Warn("Failed to publish conversation event")
	}
}
