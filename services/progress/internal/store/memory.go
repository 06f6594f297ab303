package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// InMemoryStore is a development and test implementation of ProgressStore.
// Records are copied on the way in and out so callers only change stored
// state through Save.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.Record
	order   []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]domain.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, rec domain.Record) (domain.Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("create: nil record: %w", domain.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	domain.AssignID(rec, uuid.NewString())
	s.records[rec.RecordID()] = domain.CloneRecord(rec)
	s.order = append(s.order, rec.RecordID())
	return rec, nil
}

func (s *InMemoryStore) Load(_ context.Context, id string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("progress record %s: %w", id, domain.ErrNotFound)
	}
	return domain.CloneRecord(rec), nil
}

func (s *InMemoryStore) Save(_ context.Context, rec domain.Record) error {
	if rec == nil || rec.RecordID() == "" {
		return fmt.Errorf("save unsaved record: %w", domain.ErrPersistence)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.RecordID()]; !ok {
		return fmt.Errorf("save %s: %w", rec.RecordID(), domain.ErrPersistence)
	}
	s.records[rec.RecordID()] = domain.CloneRecord(rec)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, q Query) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range s.order {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if matches(s.records[id], q) {
			out = append(out, id)
		}
	}
	return out, nil
}

func matches(rec domain.Record, q Query) bool {
	if q.Bundle != "" && rec.Bundle() != q.Bundle {
		return false
	}
	if q.OwnerUserID != "" && rec.Owner() != q.OwnerUserID {
		return false
	}
	f := indexFields(rec)
	switch {
	case q.TrackedID != "" && f.trackedID != q.TrackedID:
		return false
	case q.SourceItemID != "" && f.sourceItemID != q.SourceItemID:
		return false
	case q.ParentID != "" && f.parentID != q.ParentID:
		return false
	case q.LinkedItemID != "" && f.linkedItemID != q.LinkedItemID:
		return false
	case q.ViewingType != "" && f.viewingType != string(q.ViewingType):
		return false
	case q.ActiveOnly && f.completed:
		return false
	}
	return true
}

// fields is the queryable projection of a record.
type fields struct {
	trackedID    string
	sourceItemID string
	parentID     string
	linkedItemID string
	viewingType  string
	completed    bool
}

func indexFields(rec domain.Record) fields {
	switch r := rec.(type) {
	case *domain.CollectionProgress:
		return fields{trackedID: r.TrackedCollectionID, completed: r.CompletedAt != nil}
	case *domain.ItemProgress:
		return fields{
			trackedID:    r.TrackedContentID,
			sourceItemID: r.SourceItem.ContentID,
			parentID:     r.ParentCollectionProgressID,
		}
	case *domain.VideoProgress:
		return fields{
			trackedID:    r.TrackedVideoID,
			linkedItemID: r.LinkedItemProgressID,
			viewingType:  string(r.ViewingType),
			completed:    r.CompletedAt != nil,
		}
	}
	return fields{}
}
