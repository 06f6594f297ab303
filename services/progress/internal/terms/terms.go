// Package terms maps item status keys to their canonical identifiers.
//
// An unresolved key yields the empty StatusID and a nil error; callers treat
// it as "no such status". Errors are reserved for backend failures.
package terms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// Resolver looks up status identifiers in both directions.
type Resolver interface {
	Resolve(ctx context.Context, key domain.StatusKey) (domain.StatusID, error)
	Key(ctx context.Context, id domain.StatusID) (domain.StatusKey, error)
}

// Dictionary is a static vocabulary.
type Dictionary struct {
	byKey map[domain.StatusKey]domain.StatusID
	byID  map[domain.StatusID]domain.StatusKey
}

func NewDictionary(terms map[domain.StatusKey]domain.StatusID) *Dictionary {
	d := &Dictionary{
		byKey: make(map[domain.StatusKey]domain.StatusID, len(terms)),
		byID:  make(map[domain.StatusID]domain.StatusKey, len(terms)),
	}
	for k, id := range terms {
		d.byKey[k] = id
		d.byID[id] = k
	}
	return d
}

// DefaultDictionary matches the rows seeded by the store schema.
func DefaultDictionary() *Dictionary {
	return NewDictionary(map[domain.StatusKey]domain.StatusID{
		domain.StatusInitial:    "1",
		domain.StatusInProgress: "2",
		domain.StatusCompleted:  "3",
	})
}

func (d *Dictionary) Resolve(_ context.Context, key domain.StatusKey) (domain.StatusID, error) {
	return d.byKey[key], nil
}

func (d *Dictionary) Key(_ context.Context, id domain.StatusID) (domain.StatusKey, error) {
	return d.byID[id], nil
}

// PostgresDictionary reads the status_terms table.
type PostgresDictionary struct {
	db *pgxpool.Pool
}

func NewPostgresDictionary(db *pgxpool.Pool) *PostgresDictionary {
	return &PostgresDictionary{db: db}
}

func (d *PostgresDictionary) Resolve(ctx context.Context, key domain.StatusKey) (domain.StatusID, error) {
	var id string
	err := d.db.QueryRow(ctx, `SELECT id FROM status_terms WHERE key = $1 ORDER BY id LIMIT 1`, string(key)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("resolve status %q: %w", key, err)
	}
	return domain.StatusID(id), nil
}

func (d *PostgresDictionary) Key(ctx context.Context, id domain.StatusID) (domain.StatusKey, error) {
	var key string
	err := d.db.QueryRow(ctx, `SELECT key FROM status_terms WHERE id = $1`, string(id)).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("status key for %q: %w", id, err)
	}
	return domain.StatusKey(key), nil
}
