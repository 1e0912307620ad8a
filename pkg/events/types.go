// Package events carries conversation lifecycle notifications from the REST
// layer to subscribers such as the realtime hub and Kafka.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conversation lifecycle event types
const (
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
)

// Event is a single lifecycle notification.
type Event struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	Source         string      `json:"source"`
	Time           time.Time   `json:"time"`
	ConversationID string      `json:"conversation_id"`
	RequestID      string      `json:"request_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// NewEvent creates an event with a generated id stamped at the current time.
func NewEvent(eventType, conversationID string, data interface{}) *Event {
	return &Event{
		ID:             uuid.New().String(),
		Type:           eventType,
		Source:         "convosense",
		Time:           time.Now().UTC(),
		ConversationID: conversationID,
		Data:           data,
	}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Handler consumes events delivered by a Bus.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, *Event) error { return nil }
