// Package store persists analysed conversations.
package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/jscharber/convosense/pkg/analysis"
)

var (
	// ErrNotFound is returned when no conversation has the requested id.
	ErrNotFound = errors.New("conversation not found")
	// ErrEmptyText is returned when a conversation without text is written.
	ErrEmptyText = errors.New("text is required")
)

// Conversation is a persisted piece of text together with its analysis.
type Conversation struct {
	ID        string              `json:"_id" bson:"_id"`
	Text      string              `json:"text" bson:"text"`
	Sentiment *analysis.Sentiment `json:"sentiment,omitempty" bson:"sentiment,omitempty"`
	Emotions  *analysis.Emotions  `json:"emotions,omitempty" bson:"emotions,omitempty"`
	Context   *analysis.Context   `json:"context,omitempty" bson:"context,omitempty"`
	Language  string              `json:"language,omitempty" bson:"language,omitempty"`
	Entities  []string            `json:"entities" bson:"entities"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// NewConversation builds a record from text and its full analysis.
func NewConversation(text string, full *analysis.Full) *Conversation {
	c := &Conversation{Text: text, Entities: []string{}}
	c.ApplyAnalysis(full)
	return c
}

// ApplyAnalysis replaces the derived fields with those of full.
func (c *Conversation) ApplyAnalysis(full *analysis.Full) {
	if full == nil {
		return
	}
	sentiment := full.Sentiment
	emotions := full.Emotions
	ctx := full.Context

	c.Sentiment = &sentiment
	c.Emotions = &emotions
	c.Context = &ctx
	c.Language = full.Language
	c.Entities = append([]string{}, full.Entities...)
}

// Validate checks the invariants every stored conversation holds.
func (c *Conversation) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	if c.Sentiment != nil {
		s := *c.Sentiment
		s.Positive = append([]string{}, c.Sentiment.Positive...)
		s.Negative = append([]string{}, c.Sentiment.Negative...)
		cp.Sentiment = &s
	}
	if c.Emotions != nil {
		e := *c.Emotions
		cp.Emotions = &e
	}
	if c.Context != nil {
		x := *c.Context
		cp.Context = &x
	}
	cp.Entities = append([]string{}, c.Entities...)
	return &cp
}

// Filter restricts Find. Zero values disable the corresponding condition.
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	SearchText string
}

func (f Filter) matches(c *Conversation) bool {
	if f.StartDate != nil && c.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && c.CreatedAt.After(*f.EndDate) {
		return false
	}
	if f.SearchText != "" && !strings.Contains(strings.ToLower(c.Text), strings.ToLower(f.SearchText)) {
		return false
	}
	return true
}

// Page selects a 1-based page of Size records.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of records skipped before the page, saturating at math.MaxInt.
func (p Page) Offset() int {
	if p.Number < 1 || p.Size < 1 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// EmotionAverages holds the mean of each emotion count.
type EmotionAverages struct {
	Joy      float64 `json:"joy"`
	Sadness  float64 `json:"sadness"`
	Anger    float64 `json:"anger"`
	Fear     float64 `json:"fear"`
	Surprise float64 `json:"surprise"`
}

// Statistics summarises all stored conversations.
type Statistics struct {
	TotalConversations int64           `json:"totalConversations"`
	AverageSentiment   float64         `json:"averageSentiment"`
	EmotionAverages    EmotionAverages `json:"emotionAverages"`
}

// Repository stores conversations. Implementations are safe for concurrent use.
type Repository interface {
	// Create assigns ID, CreatedAt and UpdatedAt and stores c.
	Create(ctx context.Context, c *Conversation) error
	FindByID(ctx context.Context, id string) (*Conversation, error)
	// Find returns the page of matching conversations, newest first, and the total match count.
	Find(ctx context.Context, filter Filter, page Page) ([]*Conversation, int64, error)
	// Update overwrites the stored record with c and refreshes c.UpdatedAt.
	Update(ctx context.Context, c *Conversation) error
	DeleteByID(ctx context.Context, id string) error
	// DeleteOlderThan removes conversations created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	AggregateAverages(ctx context.Context) (*Statistics, error)
	Ping(ctx context.Context) error
	Close() error
}

// statsAccumulator averages over records that carry the relevant field.
type statsAccumulator struct {
	total          int64
	sentimentSum   float64
	sentimentCount int64
	emotionSum     EmotionAverages
	emotionCount   int64
}

func (a *statsAccumulator) add(c *Conversation) {
	a.total++
	if c.Sentiment != nil {
		a.sentimentSum += float64(c.Sentiment.Score)
		a.sentimentCount++
	}
	if c.Emotions != nil {
		a.emotionSum.Joy += float64(c.Emotions.Joy)
		a.emotionSum.Sadness += float64(c.Emotions.Sadness)
		a.emotionSum.Anger += float64(c.Emotions.Anger)
		a.emotionSum.Fear += float64(c.Emotions.Fear)
		a.emotionSum.Surprise += float64(c.Emotions.Surprise)
		a.emotionCount++
	}
}

func (a *statsAccumulator) result() *Statistics {
	s := &Statistics{TotalConversations: a.total}
	if a.sentimentCount > 0 {
		s.AverageSentiment = a.sentimentSum / float64(a.sentimentCount)
	}
	if a.emotionCount > 0 {
		n := float64(a.emotionCount)
		s.EmotionAverages = EmotionAverages{
			Joy:      a.emotionSum.Joy / n,
			Sadness:  a.emotionSum.Sadness / n,
			Anger:    a.emotionSum.Anger / n,
			Fear:     a.emotionSum.Fear / n,
			Surprise: a.emotionSum.Surprise / n,
		}
	}
	return s
}
