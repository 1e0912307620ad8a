package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	sentiment TEXT,
	emotions TEXT,
	context TEXT,
	language TEXT,
	entities TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at)`,
}

// SQLiteRepository stores conversations in an embedded SQLite database.
// Timestamps are kept as unix nanoseconds so ordering is exact.
type SQLiteRepository struct {
	db  *sql.DB
	now Clock
}

// NewSQLiteRepository opens (creating if needed) the database at path.
func NewSQLiteRepository(ctx context.Context, path string, now Clock) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY on concurrent inserts.
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
		}
	}

	if now == nil {
		now = time.Now
	}
	return &SQLiteRepository{db: db, now: now}, nil
}

func marshalNullable(v interface{}, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type sqliteRow struct {
	sentiment, emotions, context sql.NullString
	entities                     string
}

func encodeSQLiteRow(c *Conversation) (*sqliteRow, error) {
	var (
		row sqliteRow
		err error
	)
	if row.sentiment, err = marshalNullable(c.Sentiment, c.Sentiment == nil); err != nil {
		return nil, fmt.Errorf("encode sentiment: %w", err)
	}
	if row.emotions, err = marshalNullable(c.Emotions, c.Emotions == nil); err != nil {
		return nil, fmt.Errorf("encode emotions: %w", err)
	}
	if row.context, err = marshalNullable(c.Context, c.Context == nil); err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	entities := c.Entities
	if entities == nil {
		entities = []string{}
	}
	data, err := json.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}
	row.entities = string(data)
	return &row, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	row, err := encodeSQLiteRow(c)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, text, sentiment, emotions, context, language, entities, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.Text, row.sentiment, row.emotions, row.context, c.Language, row.entities, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Entities == nil {
		c.Entities = []string{}
	}
	return nil
}

const sqliteColumns = `id, text, sentiment, emotions, context, language, entities, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(s scanner) (*Conversation, error) {
	var (
		c                            Conversation
		sentiment, emotions, ctxJSON sql.NullString
		language                     sql.NullString
		entities                     string
		createdAt, updatedAt         int64
	)
	if err := s.Scan(&c.ID, &c.Text, &sentiment, &emotions, &ctxJSON, &language, &entities, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if sentiment.Valid {
		if err := json.Unmarshal([]byte(sentiment.String), &c.Sentiment); err != nil {
			return nil, fmt.Errorf("decode sentiment: %w", err)
		}
	}
	if emotions.Valid {
		if err := json.Unmarshal([]byte(emotions.String), &c.Emotions); err != nil {
			return nil, fmt.Errorf("decode emotions: %w", err)
		}
	}
	if ctxJSON.Valid {
		if err := json.Unmarshal([]byte(ctxJSON.String), &c.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(entities), &c.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	if c.Entities == nil {
		c.Entities = []string{}
	}
	c.Language = language.String
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &c, nil
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func sqliteWhere(filter Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.StartDate != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.StartDate.UnixNano())
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, filter.EndDate.UnixNano())
	}
	if filter.SearchText != "" {
		clauses = append(clauses, "instr(lower(text), ?) > 0")
		args = append(args, strings.ToLower(filter.SearchText))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *SQLiteRepository) Find(ctx context.Context, filter Filter, page Page) ([]*Conversation, int64, error) {
	where, args := sqliteWhere(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	query := `SELECT ` + sqliteColumns + ` FROM conversations` + where + ` ORDER BY created_at DESC, rowid DESC`
	if page.Size > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Size, page.Offset())
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []*Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}
	row, err := encodeSQLiteRow(c)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET text = ?, sentiment = ?, emotions = ?, context = ?, language = ?, entities = ?, updated_at = ?
		 WHERE id = ?`,
		c.Text, row.sentiment, row.emotions, row.context, c.Language, row.entities, now.UnixNano(), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	var createdAt int64
	if err := r.db.QueryRowContext(ctx, `SELECT created_at FROM conversations WHERE id = ?`, c.ID).Scan(&createdAt); err != nil {
		return fmt.Errorf("failed to reload conversation: %w", err)
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old conversations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) AggregateAverages(ctx context.Context) (*Statistics, error) {
	var (
		s                                   Statistics
		sentiment                           sql.NullFloat64
		joy, sadness, anger, fear, surprise sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			AVG(json_extract(sentiment, '$.score')),
			AVG(json_extract(emotions, '$.joy')),
			AVG(json_extract(emotions, '$.sadness')),
			AVG(json_extract(emotions, '$.anger')),
			AVG(json_extract(emotions, '$.fear')),
			AVG(json_extract(emotions, '$.surprise'))
		FROM conversations`).Scan(&s.TotalConversations, &sentiment, &joy, &sadness, &anger, &fear, &surprise)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}

	s.AverageSentiment = sentiment.Float64
	s.EmotionAverages = EmotionAverages{
		Joy:      joy.Float64,
		Sadness:  sadness.Float64,
		Anger:    anger.Float64,
		Fear:     fear.Float64,
		Surprise: surprise.Float64,
	}
	return &s, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
