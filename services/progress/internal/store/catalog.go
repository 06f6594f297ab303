package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// InMemoryCatalog is a development-only ContentLookup.
type InMemoryCatalog struct {
	mu      sync.RWMutex
	content map[string]domain.Content
}

func NewInMemoryCatalog(items ...domain.Content) *InMemoryCatalog {
	c := &InMemoryCatalog{content: make(map[string]domain.Content)}
	for _, it := range items {
		c.Put(it)
	}
	return c
}

// Put adds or replaces a piece of content.
func (c *InMemoryCatalog) Put(content domain.Content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content.Entries = slices.Clone(content.Entries)
	c.content[content.ID] = content
}

func (c *InMemoryCatalog) LoadContent(_ context.Context, id string) (*domain.Content, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.content[id]
	if !ok {
		return nil, nil
	}
	content.Entries = slices.Clone(content.Entries)
	return &content, nil
}

// PostgresCatalog reads content from the content table.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) LoadContent(ctx context.Context, id string) (*domain.Content, error) {
	const q = `SELECT id, revision_id, kind, duration_seconds, entries FROM content WHERE id = $1`
	var (
		out     domain.Content
		kind    string
		entries []byte
	)
	err := c.db.QueryRow(ctx, q, id).Scan(&out.ID, &out.RevisionID, &kind, &out.DurationSeconds, &entries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load content %s: %w", id, err)
	}
	out.Kind = domain.ContentKind(kind)
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &out.Entries); err != nil {
			return nil, fmt.Errorf("decode entries of %s: %w", id, err)
		}
	}
	return &out, nil
}

// Upsert inserts or replaces content.
func (c *PostgresCatalog) Upsert(ctx context.Context, content domain.Content) error {
	if err := content.Validate(); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	list := content.Entries
	if list == nil {
		list = []domain.CollectionEntry{}
	}
	entries, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode entries of %s: %w", content.ID, err)
	}
	const q = `INSERT INTO content (id, revision_id, kind, duration_seconds, entries)
	           VALUES ($1, $2, $3, $4, $5)
	           ON CONFLICT (id) DO UPDATE SET
	             revision_id = EXCLUDED.revision_id,
	             kind = EXCLUDED.kind,
	             duration_seconds = EXCLUDED.duration_seconds,
	             entries = EXCLUDED.entries`
	if _, err := c.db.Exec(ctx, q, content.ID, content.RevisionID, string(content.Kind), content.DurationSeconds, entries); err != nil {
		return fmt.Errorf("upsert content %s: %w", content.ID, err)
	}
	return nil
}
