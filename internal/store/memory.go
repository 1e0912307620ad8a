package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Repositories use it to stamp records.
type Clock func() time.Time

// MemoryRepository keeps conversations in a map. Records are copied on the way
// in and out so callers never share state with the store.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	seq     uint64
	now     Clock
}

type memoryRecord struct {
	conv *Conversation
	seq  uint64
}

// NewMemoryRepository creates an empty in-memory repository. A nil clock uses time.Now.
func NewMemoryRepository(now Clock) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		records: make(map[string]*memoryRecord),
		now:     now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	c.ID = uuid.New().String()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Entities == nil {
		c.Entities = []string{}
	}

	r.seq++
	r.records[c.ID] = &memoryRecord{conv: c.clone(), seq: r.seq}
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.conv.clone(), nil
}

func (r *MemoryRepository) Find(ctx context.Context, filter Filter, page Page) ([]*Conversation, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*memoryRecord, 0, len(r.records))
	for _, rec := range r.records {
		if filter.matches(rec.conv) {
			matched = append(matched, rec)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.conv.CreatedAt.Equal(b.conv.CreatedAt) {
			return a.conv.CreatedAt.After(b.conv.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := int64(len(matched))
	start := page.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if page.Size > 0 && start+page.Size < end {
		end = start + page.Size
	}

	out := make([]*Conversation, 0, end-start)
	for _, rec := range matched[start:end] {
		out = append(out, rec.conv.clone())
	}
	return out, total, nil
}

func (r *MemoryRepository) Update(ctx context.Context, c *Conversation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[c.ID]
	if !ok {
		return ErrNotFound
	}

	c.CreatedAt = rec.conv.CreatedAt
	c.UpdatedAt = r.now().UTC()
	rec.conv = c.clone()
	return nil
}

func (r *MemoryRepository) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, rec := range r.records {
		if rec.conv.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *MemoryRepository) AggregateAverages(ctx context.Context) (*Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var acc statsAccumulator
	for _, rec := range r.records {
		acc.add(rec.conv)
	}
	return acc.result(), nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

func (r *MemoryRepository) Close() error { return nil }
