package store

import (
	"context"
	_ "embed"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// Schema is the DDL for the Postgres-backed stores.
//
//go:embed schema.sql
var Schema string

// Query selects progress record ids. Empty fields are not used as conditions.
type Query struct {
	Bundle      domain.Bundle
	OwnerUserID string

	// TrackedID matches the tracked collection, content or video id
	// depending on the bundle.
	TrackedID    string
	SourceItemID string
	ParentID     string
	LinkedItemID string
	ViewingType  domain.ViewingType
	ActiveOnly   bool // no completion timestamp
	Limit        int
}

// ProgressStore is the generic repository for progress records.
type ProgressStore interface {
	// Create assigns an id to rec and persists it.
	Create(ctx context.Context, rec domain.Record) (domain.Record, error)
	// Load returns a copy of the stored record or domain.ErrNotFound.
	Load(ctx context.Context, id string) (domain.Record, error)
	// Save durably writes rec. Failures wrap domain.ErrPersistence.
	Save(ctx context.Context, rec domain.Record) error
	// Query returns matching ids in creation order.
	Query(ctx context.Context, q Query) ([]string, error)
}

// ContentLookup resolves tracked content.
type ContentLookup interface {
	// LoadContent returns nil, nil when the content does not exist.
	LoadContent(ctx context.Context, id string) (*domain.Content, error)
}
