package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/analysis/lexicon"
)

var lexiconForTests = lexicon.Default()

// steppingClock advances one second per call so every record gets a distinct timestamp.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type repoFactory func(t *testing.T, now Clock) Repository

func analyzed(t *testing.T, text string) *Conversation {
	t.Helper()
	return NewConversation(text, &analysis.Full{
		Result: analysis.Result{
			Sentiment: analysis.ScoreSentiment(lexiconForTests, text),
			Emotions:  analysis.AnalyzeEmotions(text),
			Language:  "en",
		},
		Context:  analysis.AnalyzeContext(text),
		Entities: analysis.ExtractEntities(text),
	})
}

func runRepositoryContract(t *testing.T, factory repoFactory) {
	ctx := context.Background()

	t.Run("create assigns id and timestamps", func(t *testing.T) {
		repo := factory(t, newSteppingClock().Now)
		c := analyzed(t, "I am so happy and glad today")

		require.NoError(t, repo.Create(ctx, c))
		assert.NotEmpty(t, c.ID)
		assert.False(t, c.CreatedAt.IsZero())
		assert.Equal(t, c.CreatedAt, c.UpdatedAt)

		got, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Text, got.Text)
		assert.Equal(t, c.Sentiment, got.Sentiment)
		assert.Equal(t, c.Emotions, got.Emotions)
		assert.Equal(t, c.Context, got.Context)
		assert.Equal(t, "en", got.Language)
		assert.Equal(t, c.Entities, got.Entities)
		assert.True(t, c.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("create rejects empty text", func(t *testing.T) {
		repo := factory(t, nil)
		err := repo.Create(ctx, &Conversation{Text: "   "})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, total, err := repo.Find(ctx, Filter{}, Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("find by unknown id", func(t *testing.T) {
		repo := factory(t, nil)
		_, err := repo.FindByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pagination is newest first", func(t *testing.T) {
		repo := factory(t, newSteppingClock().Now)
		for i := 0; i < 25; i++ {
			require.NoError(t, repo.Create(ctx, &Conversation{Text: fmt.Sprintf("message %02d", i)}))
		}

		page, total, err := repo.Find(ctx, Filter{}, Page{Number: 2, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(25), total)
		require.Len(t, page, 10)
		assert.Equal(t, "message 14", page[0].Text)
		assert.Equal(t, "message 05", page[9].Text)
		for i := 1; i < len(page); i++ {
			assert.True(t, page[i-1].CreatedAt.After(page[i].CreatedAt))
		}

		last, _, err := repo.Find(ctx, Filter{}, Page{Number: 3, Size: 10})
		require.NoError(t, err)
		assert.Len(t, last, 5)

		beyond, _, err := repo.Find(ctx, Filter{}, Page{Number: 9, Size: 10})
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("filters by date and text", func(t *testing.T) {
		clock := newSteppingClock()
		repo := factory(t, clock.Now)

		texts := []string{"Server is DOWN", "lunch plans", "the server rebooted", "weekend trip"}
		created := make([]*Conversation, 0, len(texts))
		for _, text := range texts {
			c := &Conversation{Text: text}
			require.NoError(t, repo.Create(ctx, c))
			created = append(created, c)
		}

		found, total, err := repo.Find(ctx, Filter{SearchText: "server"}, Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, found, 2)
		assert.Equal(t, "the server rebooted", found[0].Text)

		start := created[1].CreatedAt
		end := created[2].CreatedAt
		found, total, err = repo.Find(ctx, Filter{StartDate: &start, EndDate: &end}, Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Equal(t, "the server rebooted", found[0].Text)
		assert.Equal(t, "lunch plans", found[1].Text)
	})

	t.Run("update refreshes updatedAt and keeps createdAt", func(t *testing.T) {
		repo := factory(t, newSteppingClock().Now)
		c := analyzed(t, "this is fine")
		require.NoError(t, repo.Create(ctx, c))
		createdAt := c.CreatedAt

		c.Text = "this is terrible"
		c.ApplyAnalysis(&analysis.Full{Result: analysis.Result{
			Sentiment: analysis.ScoreSentiment(lexiconForTests, c.Text),
			Language:  "en",
		}})
		require.NoError(t, repo.Update(ctx, c))
		assert.True(t, c.UpdatedAt.After(createdAt))
		assert.True(t, createdAt.Equal(c.CreatedAt))

		got, err := repo.FindByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "this is terrible", got.Text)
		assert.Equal(t, -3, got.Sentiment.Score)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})

	t.Run("update unknown id", func(t *testing.T) {
		repo := factory(t, nil)
		err := repo.Update(ctx, &Conversation{ID: "00000000-0000-0000-0000-000000000000", Text: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := factory(t, nil)
		c := &Conversation{Text: "to be removed"}
		require.NoError(t, repo.Create(ctx, c))
		keep := &Conversation{Text: "to be kept"}
		require.NoError(t, repo.Create(ctx, keep))

		require.NoError(t, repo.DeleteByID(ctx, c.ID))
		_, err := repo.FindByID(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, repo.DeleteByID(ctx, c.ID), ErrNotFound)
		_, total, err := repo.Find(ctx, Filter{}, Page{Number: 1, Size: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("delete older than", func(t *testing.T) {
		clock := newSteppingClock()
		repo := factory(t, clock.Now)
		var all []*Conversation
		for i := 0; i < 4; i++ {
			c := &Conversation{Text: fmt.Sprintf("old %d", i)}
			require.NoError(t, repo.Create(ctx, c))
			all = append(all, c)
		}

		deleted, err := repo.DeleteOlderThan(ctx, all[2].CreatedAt)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, err = repo.FindByID(ctx, all[2].ID)
		assert.NoError(t, err)
	})

	t.Run("statistics", func(t *testing.T) {
		repo := factory(t, nil)

		stats, err := repo.AggregateAverages(ctx)
		require.NoError(t, err)
		assert.Equal(t, &Statistics{}, stats)

		require.NoError(t, repo.Create(ctx, analyzed(t, "I am so happy and glad today")))
		require.NoError(t, repo.Create(ctx, analyzed(t, "sad and angry")))
		require.NoError(t, repo.Create(ctx, &Conversation{Text: "no analysis attached"}))

		stats, err = repo.AggregateAverages(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalConversations)
		// (6 + -5) / 2 records carrying sentiment
		assert.InDelta(t, 0.5, stats.AverageSentiment, 1e-9)
		assert.InDelta(t, 1.0, stats.EmotionAverages.Joy, 1e-9)
		assert.InDelta(t, 0.5, stats.EmotionAverages.Sadness, 1e-9)
		assert.InDelta(t, 0.5, stats.EmotionAverages.Anger, 1e-9)
		assert.InDelta(t, 0.0, stats.EmotionAverages.Fear, 1e-9)
	})

	t.Run("ping", func(t *testing.T) {
		repo := factory(t, nil)
		assert.NoError(t, repo.Ping(ctx))
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T, now Clock) Repository {
		return NewMemoryRepository(now)
	})
}

func TestSQLiteRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T, now Clock) Repository {
		path := filepath.Join(t.TempDir(), "conversations.db")
		repo, err := NewSQLiteRepository(context.Background(), path, now)
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	})
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository(nil)
	c := analyzed(t, "happy days")
	require.NoError(t, repo.Create(context.Background(), c))

	c.Text = "mutated after create"
	c.Emotions.Joy = 99

	got, err := repo.FindByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "happy days", got.Text)
	assert.Equal(t, 1, got.Emotions.Joy)
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, Page{Number: 1, Size: 10}.Offset())
	assert.Equal(t, 20, Page{Number: 3, Size: 10}.Offset())
	assert.Equal(t, 0, Page{Number: 0, Size: 10}.Offset())
	assert.Equal(t, math.MaxInt, Page{Number: math.MaxInt, Size: 10}.Offset())
	assert.Equal(t, math.MaxInt, Page{Number: 1_000_000_000_000_000_000, Size: 10}.Offset())
}

func TestMemoryRepository_PageBeyondEnd(t *testing.T) {
	repo := NewMemoryRepository(nil)
	require.NoError(t, repo.Create(context.Background(), &Conversation{Text: "only one"}))

	got, total, err := repo.Find(context.Background(), Filter{}, Page{Number: math.MaxInt, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int64(1), total)
}
