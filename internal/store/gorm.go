package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationModel is the relational row for a conversation.
type ConversationModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key"`
	Text      string         `gorm:"type:text;not null"`
	Sentiment datatypes.JSON `gorm:"type:jsonb"`
	Emotions  datatypes.JSON `gorm:"type:jsonb"`
	Context   datatypes.JSON `gorm:"type:jsonb"`
	Language  string         `gorm:"type:varchar(16)"`
	Entities  datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConversationModel) TableName() string {
	return "conversations"
}

// BeforeCreate sets the ID before creating
func (m *ConversationModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func nullableJSON(v interface{}, isNil bool) (datatypes.JSON, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func toModel(c *Conversation) (*ConversationModel, error) {
	m := &ConversationModel{
		Text:      c.Text,
		Language:  c.Language,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.ID != "" {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			return nil, ErrNotFound
		}
		m.ID = id
	}

	var err error
	if m.Sentiment, err = nullableJSON(c.Sentiment, c.Sentiment == nil); err != nil {
		return nil, fmt.Errorf("encode sentiment: %w", err)
	}
	if m.Emotions, err = nullableJSON(c.Emotions, c.Emotions == nil); err != nil {
		return nil, fmt.Errorf("encode emotions: %w", err)
	}
	if m.Context, err = nullableJSON(c.Context, c.Context == nil); err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	entities := c.Entities
	if entities == nil {
		entities = []string{}
	}
	if m.Entities, err = nullableJSON(entities, false); err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}
	return m, nil
}

func fromModel(m *ConversationModel) (*Conversation, error) {
	c := &Conversation{
		ID:        m.ID.String(),
		Text:      m.Text,
		Language:  m.Language,
		Entities:  []string{},
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	decode := func(raw datatypes.JSON, dst interface{}, field string) error {
		if len(raw) == 0 || string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s: %w", field, err)
		}
		return nil
	}
	if err := decode(m.Sentiment, &c.Sentiment, "sentiment"); err != nil {
		return nil, err
	}
	if err := decode(m.Emotions, &c.Emotions, "emotions"); err != nil {
		return nil, err
	}
	if err := decode(m.Context, &c.Context, "context"); err != nil {
		return nil, err
	}
	if err := decode(m.Entities, &c.Entities, "entities"); err != nil {
		return nil, err
	}
	return c, nil
}

// GormRepository stores conversations in PostgreSQL through GORM.
type GormRepository struct {
	db     *gorm.DB
	now    Clock
	tracer trace.Tracer
}

// NewGormRepository wraps an open GORM connection.
func NewGormRepository(db *gorm.DB, now Clock) *GormRepository {
	if now == nil {
		now = time.Now
	}
	return &GormRepository{db: db, now: now, tracer: otel.Tracer("convosense/store")}
}

// AutoMigrate creates or updates the conversations table.
func (r *GormRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ConversationModel{})
}

func (r *GormRepository) span(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, "store."+op)
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", op))
	return ctx, span
}

func (r *GormRepository) Create(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ctx, span := r.span(ctx, "create")
	defer span.End()

	now := r.now().UTC()
	c.ID = ""
	c.CreatedAt = now
	c.UpdatedAt = now
	m, err := toModel(c)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	c.ID = m.ID.String()
	if c.Entities == nil {
		c.Entities = []string{}
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id string) (*Conversation, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	ctx, span := r.span(ctx, "find_by_id")
	defer span.End()

	var m ConversationModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return fromModel(&m)
}

func (r *GormRepository) filtered(ctx context.Context, filter Filter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&ConversationModel{})
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	if filter.SearchText != "" {
		query = query.Where("strpos(lower(text), ?) > 0", strings.ToLower(filter.SearchText))
	}
	return query
}

func (r *GormRepository) Find(ctx context.Context, filter Filter, page Page) ([]*Conversation, int64, error) {
	ctx, span := r.span(ctx, "find")
	defer span.End()

	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	query := r.filtered(ctx, filter).Order("created_at DESC")
	if page.Size > 0 {
		query = query.Limit(page.Size).Offset(page.Offset())
	}

	var models []ConversationModel
	if err := query.Find(&models).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]*Conversation, 0, len(models))
	for i := range models {
		c, err := fromModel(&models[i])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, nil
}

func (r *GormRepository) Update(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ctx, span := r.span(ctx, "update")
	defer span.End()

	existing, err := r.FindByID(ctx, c.ID)
	if err != nil {
		return err
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = r.now().UTC()
	m, err := toModel(c)
	if err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&ConversationModel{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"text":       m.Text,
		"sentiment":  m.Sentiment,
		"emotions":   m.Emotions,
		"context":    m.Context,
		"language":   m.Language,
		"entities":   m.Entities,
		"updated_at": m.UpdatedAt,
	})
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) DeleteByID(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	ctx, span := r.span(ctx, "delete")
	defer span.End()

	res := r.db.WithContext(ctx).Delete(&ConversationModel{}, "id = ?", uid)
	if res.Error != nil {
		span.RecordError(res.Error)
		return fmt.Errorf("failed to delete conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := r.span(ctx, "delete_older_than")
	defer span.End()

	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ConversationModel{})
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to delete old conversations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type gormAggregate struct {
	Total    int64
	Score    *float64
	Joy      *float64
	Sadness  *float64
	Anger    *float64
	Fear     *float64
	Surprise *float64
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func (r *GormRepository) AggregateAverages(ctx context.Context) (*Statistics, error) {
	ctx, span := r.span(ctx, "aggregate")
	defer span.End()

	var agg gormAggregate
	err := r.db.WithContext(ctx).Model(&ConversationModel{}).Select(`
		COUNT(*) AS total,
		AVG((sentiment->>'score')::float) AS score,
		AVG((emotions->>'joy')::float) AS joy,
		AVG((emotions->>'sadness')::float) AS sadness,
		AVG((emotions->>'anger')::float) AS anger,
		AVG((emotions->>'fear')::float) AS fear,
		AVG((emotions->>'surprise')::float) AS surprise`).Scan(&agg).Error
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}

	return &Statistics{
		TotalConversations: agg.Total,
		AverageSentiment:   deref(agg.Score),
		EmotionAverages: EmotionAverages{
			Joy:      deref(agg.Joy),
			Sadness:  deref(agg.Sadness),
			Anger:    deref(agg.Anger),
			Fear:     deref(agg.Fear),
			Surprise: deref(agg.Surprise),
		},
	}, nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
