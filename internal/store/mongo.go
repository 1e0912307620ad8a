package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig locates the conversations collection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// MongoRepository stores conversations as documents.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        Clock
}

// NewMongoRepository connects to MongoDB and ensures the createdAt index exists.
func NewMongoRepository(ctx context.Context, cfg MongoConfig, now Clock) (*MongoRepository, error) {
	if cfg.Collection == "" {
		cfg.Collection = "conversations"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongodb index: %w", err)
	}

	if now == nil {
		now = time.Now
	}
	return &MongoRepository{client: client, collection: collection, now: now}, nil
}

// mongo keeps millisecond precision
func mongoTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (r *MongoRepository) Create(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	now := mongoTime(r.now())
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Entities == nil {
		c.Entities = []string{}
	}

	if _, err := r.collection.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByID(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	normalizeDecoded(&c)
	return &c, nil
}

func normalizeDecoded(c *Conversation) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.Entities == nil {
		c.Entities = []string{}
	}
}

func mongoFilter(filter Filter) bson.M {
	query := bson.M{}
	created := bson.M{}
	if filter.StartDate != nil {
		created["$gte"] = *filter.StartDate
	}
	if filter.EndDate != nil {
		created["$lte"] = *filter.EndDate
	}
	if len(created) > 0 {
		query["createdAt"] = created
	}
	if filter.SearchText != "" {
		query["text"] = bson.M{"$regex": regexp.QuoteMeta(filter.SearchText), "$options": "i"}
	}
	return query
}

func (r *MongoRepository) Find(ctx context.Context, filter Filter, page Page) ([]*Conversation, int64, error) {
	query := mongoFilter(filter)

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if page.Size > 0 {
		opts.SetSkip(int64(page.Offset())).SetLimit(int64(page.Size))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	out := []*Conversation{}
	for cursor.Next(ctx) {
		var c Conversation
		if err := cursor.Decode(&c); err != nil {
			return nil, 0, fmt.Errorf("failed to decode conversation: %w", err)
		}
		normalizeDecoded(&c)
		out = append(out, &c)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoRepository) Update(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	now := mongoTime(r.now())
	set := bson.M{
		"text":      c.Text,
		"sentiment": c.Sentiment,
		"emotions":  c.Emotions,
		"context":   c.Context,
		"language":  c.Language,
		"entities":  c.Entities,
		"updatedAt": now,
	}

	var updated Conversation
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": c.ID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	c.CreatedAt = updated.CreatedAt.UTC()
	c.UpdatedAt = now
	return nil
}

func (r *MongoRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old conversations: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) AggregateAverages(ctx context.Context) (*Statistics, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "score", Value: bson.D{{Key: "$avg", Value: "$sentiment.score"}}},
			{Key: "joy", Value: bson.D{{Key: "$avg", Value: "$emotions.joy"}}},
			{Key: "sadness", Value: bson.D{{Key: "$avg", Value: "$emotions.sadness"}}},
			{Key: "anger", Value: bson.D{{Key: "$avg", Value: "$emotions.anger"}}},
			{Key: "fear", Value: bson.D{{Key: "$avg", Value: "$emotions.fear"}}},
			{Key: "surprise", Value: bson.D{{Key: "$avg", Value: "$emotions.surprise"}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total    int64    `bson:"total"`
		Score    *float64 `bson:"score"`
		Joy      *float64 `bson:"joy"`
		Sadness  *float64 `bson:"sadness"`
		Anger    *float64 `bson:"anger"`
		Fear     *float64 `bson:"fear"`
		Surprise *float64 `bson:"surprise"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate: %w", err)
	}

	stats := &Statistics{}
	if len(rows) == 0 {
		return stats, nil
	}
	row := rows[0]
	stats.TotalConversations = row.Total
	stats.AverageSentiment = deref(row.Score)
	stats.EmotionAverages = EmotionAverages{
		Joy:      deref(row.Joy),
		Sadness:  deref(row.Sadness),
		Anger:    deref(row.Anger),
		Fear:     deref(row.Fear),
		Surprise: deref(row.Surprise),
	}
	return stats, nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
