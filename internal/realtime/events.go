package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names
const (
	EventConnected  = "connected"
	EventDisconnect = "disconnect"
	EventError      = "error"

	EventAnalyzeText    = "analyze-text"
	EventAnalysisResult = "analysis-result"
	EventAnalysisError  = "analysis-error"

	EventAnalyzeFace        = "analyze-face"
	EventFaceAnalysisResult = "face-analysis-result"

	EventAnalyzeImage        = "analyze-image"
	EventImageAnalysisResult = "image-analysis-result"

	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"

	EventConversationCreated = "conversation-created"
	EventConversationUpdated = "conversation-updated"
	EventConversationDeleted = "conversation-deleted"
)

// ImageConfidence is attached to every image result; no image model runs.
const ImageConfidence = 0.85

// ConnectedPayload acknowledges a new connection.
type ConnectedPayload struct {
	ID string `json:"id"`
}

// ErrorPayload carries error and analysis-error messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

var (
	errEmptyText      = errors.New("text is required")
	errInvalidPayload = errors.New("payload must be a JSON object")
	errMissingID      = errors.New("conversation id is required")
)

// RoomName returns the room that receives updates for a conversation.
func RoomName(conversationID string) string {
	return "conversation:" + conversationID
}

// dispatchTable maps inbound event names to handlers for one connection.
func (h *Hub) dispatchTable() map[string]EventHandler {
	return map[string]EventHandler{
		EventAnalyzeText:       h.handleAnalyzeText,
		EventAnalyzeFace:       h.handleAnalyzeFace,
		EventAnalyzeImage:      h.handleAnalyzeImage,
		EventJoinConversation:  h.handleJoin,
		EventLeaveConversation: h.handleLeave,
	}
}

// handleAnalyzeText accepts {"text": "..."} or a bare JSON string.
func (h *Hub) handleAnalyzeText(ctx context.Context, c *Client, data json.RawMessage) error {
	text := decodeText(data)
	if strings.TrimSpace(text) == "" {
		c.emitError(EventAnalysisError, "Text is required")
		return errEmptyText
	}

	result, err := h.analyzer.AnalyzeText(ctx, text)
	if err != nil {
		c.emitError(EventAnalysisError, "Failed to analyze text")
		return err
	}
	return c.Emit(EventAnalysisResult, result)
}

// handleAnalyzeFace echoes the payload with a timestamp.
func (h *Hub) handleAnalyzeFace(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decodeObject(data)
	if err != nil {
		c.emitError(EventAnalysisError, "Invalid face analysis payload")
		return err
	}
	payload["timestamp"] = h.now().UTC()
	return c.Emit(EventFaceAnalysisResult, payload)
}

// handleAnalyzeImage echoes the payload with a timestamp and a fixed confidence.
func (h *Hub) handleAnalyzeImage(ctx context.Context, c *Client, data json.RawMessage) error {
	payload, err := decodeObject(data)
	if err != nil {
		c.emitError(EventAnalysisError, "Failed to analyze image")
		return err
	}
	payload["timestamp"] = h.now().UTC()
	payload["confidence"] = ImageConfidence
	return c.Emit(EventImageAnalysisResult, payload)
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	id := decodeConversationID(data)
	if id == "" {
		c.emitError(EventError, "Conversation id is required")
		return errMissingID
	}
	h.Join(c, RoomName(id))
	return nil
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, data json.RawMessage) error {
	id := decodeConversationID(data)
	if id == "" {
		c.emitError(EventError, "Conversation id is required")
		return errMissingID
	}
	h.Leave(c, RoomName(id))
	return nil
}

func decodeText(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	var req struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(data, &req) == nil {
		return req.Text
	}
	return ""
}

func decodeObject(data json.RawMessage) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if payload == nil {
		return nil, errInvalidPayload
	}
	return payload, nil
}

// decodeConversationID accepts "id", {"id": "..."} or {"conversationId": "..."}.
func decodeConversationID(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return strings.TrimSpace(s)
	}
	var req struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversationId"`
	}
	if json.Unmarshal(data, &req) != nil {
		return ""
	}
	if req.ID != "" {
		return strings.TrimSpace(req.ID)
	}
	return strings.TrimSpace(req.ConversationID)
}

