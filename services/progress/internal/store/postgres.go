package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// PostgresStore is the production Postgres-backed ProgressStore. Every
// variant lives in progress_records: queryable fields as columns, the full
// record as a jsonb payload.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("create: nil record: %w", domain.ErrInvalidState)
	}
	domain.AssignID(rec, uuid.NewString())
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Bundle(), err)
	}
	f := indexFields(rec)

	const q = `
INSERT INTO progress_records
  (id, bundle, owner_user_id, tracked_id, source_item_id, parent_id, linked_item_id, viewing_type, completed_at, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.db.Exec(ctx, q,
		rec.RecordID(), string(rec.Bundle()), rec.Owner(),
		f.trackedID, f.sourceItemID, f.parentID, f.linkedItemID, f.viewingType,
		completedAt(rec), payload, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w: %v", rec.Bundle(), domain.ErrPersistence, err)
	}
	return rec, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (domain.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("progress record %s: %w", id, domain.ErrNotFound)
	}
	var (
		bundle  string
		payload []byte
	)
	err := s.db.QueryRow(ctx, `SELECT bundle, payload FROM progress_records WHERE id = $1`, id).
		Scan(&bundle, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("progress record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return decodeRecord(domain.Bundle(bundle), payload)
}

func (s *PostgresStore) Save(ctx context.Context, rec domain.Record) error {
	if rec == nil || rec.RecordID() == "" {
		return fmt.Errorf("save unsaved record: %w", domain.ErrPersistence)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w: %v", rec.Bundle(), domain.ErrPersistence, err)
	}
	f := indexFields(rec)

	const q = `
UPDATE progress_records SET
  tracked_id     = $2,
  source_item_id = $3,
  parent_id      = $4,
  linked_item_id = $5,
  viewing_type   = $6,
  completed_at   = $7,
  payload        = $8,
  updated_at     = $9
WHERE id = $1`
	tag, err := s.db.Exec(ctx, q,
		rec.RecordID(), f.trackedID, f.sourceItemID, f.parentID, f.linkedItemID, f.viewingType,
		completedAt(rec), payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w: %v", rec.RecordID(), domain.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save %s: no such record: %w", rec.RecordID(), domain.ErrPersistence)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, pq Query) ([]string, error) {
	q, args := buildQuery(pq)
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query progress records: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan progress record id: %w", err)
		}
		out = append(out, id.String())
	}
	return out, rows.Err()
}

func buildQuery(pq Query) (string, []any) {
	q := `SELECT id FROM progress_records WHERE true`
	var args []any
	cond := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		q += " AND " + column + " = $" + strconv.Itoa(len(args))
	}
	cond("bundle", string(pq.Bundle))
	cond("owner_user_id", pq.OwnerUserID)
	cond("tracked_id", pq.TrackedID)
	cond("source_item_id", pq.SourceItemID)
	cond("parent_id", pq.ParentID)
	cond("linked_item_id", pq.LinkedItemID)
	cond("viewing_type", string(pq.ViewingType))
	if pq.ActiveOnly {
		q += " AND completed_at IS NULL"
	}
	q += " ORDER BY seq"
	if pq.Limit > 0 {
		args = append(args, pq.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	return q, args
}

func decodeRecord(bundle domain.Bundle, payload []byte) (domain.Record, error) {
	var rec domain.Record
	switch bundle {
	case domain.BundleCollection:
		rec = &domain.CollectionProgress{}
	case domain.BundleItem:
		rec = &domain.ItemProgress{}
	case domain.BundleVideo:
		rec = &domain.VideoProgress{}
	default:
		return nil, fmt.Errorf("unknown bundle %q: %w", bundle, domain.ErrInvalidState)
	}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", bundle, err)
	}
	return rec, nil
}

func completedAt(rec domain.Record) *time.Time {
	switch r := rec.(type) {
	case *domain.CollectionProgress:
		return r.CompletedAt
	case *domain.VideoProgress:
		return r.CompletedAt
	}
	return nil
}
