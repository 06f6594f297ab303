package progress

import (
	"context"
	"fmt"

	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

// CollectionManager walks the ordered item list of a collection progress.
// Every traversal fails with domain.ErrInvalidState when the collection has
// no items.
type CollectionManager struct {
	store store.ProgressStore
	terms terms.Resolver
}

func NewCollectionManager(s store.ProgressStore, t terms.Resolver) *CollectionManager {
	return &CollectionManager{store: s, terms: t}
}

// GetCurrentItemProgress resolves the collection's current item reference
// to the user's item progress. Returns nil when no current item is set.
func (m *CollectionManager) GetCurrentItemProgress(ctx context.Context, userID string, col *domain.CollectionProgress) (*domain.ItemProgress, error) {
	if err := validateItems(col); err != nil {
		return nil, err
	}
	if col.CurrentItem == nil {
		return nil, nil
	}
	return m.itemForSource(ctx, userID, col, *col.CurrentItem)
}

// GetFirstItemProgress returns the first entry of the item list.
func (m *CollectionManager) GetFirstItemProgress(ctx context.Context, col *domain.CollectionProgress) (*domain.ItemProgress, error) {
	if err := validateItems(col); err != nil {
		return nil, err
	}
	return m.loadItem(ctx, col.Items[0])
}

// GetFirstIncompleteItemProgress returns the first item, in list order,
// whose status is not completed, or nil when every item is completed.
func (m *CollectionManager) GetFirstIncompleteItemProgress(ctx context.Context, col *domain.CollectionProgress) (*domain.ItemProgress, error) {
	if err := validateItems(col); err != nil {
		return nil, err
	}
	completedID, err := m.terms.Resolve(ctx, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	for _, id := range col.Items {
		item, err := m.loadItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if isCompleted(item, completedID) {
			continue
		}
		return item, nil
	}
	return nil, nil
}

// GetNextItemProgress returns the item right after the current one. With no
// current item set it returns the first item. Returns nil when the current
// item is last; use GetFirstIncompleteItemProgress to look back over
// skipped items.
func (m *CollectionManager) GetNextItemProgress(ctx context.Context, userID string, col *domain.CollectionProgress) (*domain.ItemProgress, error) {
	if err := validateItems(col); err != nil {
		return nil, err
	}
	if col.CurrentItem == nil {
		return m.GetFirstItemProgress(ctx, col)
	}

	current, err := m.itemForSource(ctx, userID, col, *col.CurrentItem)
	if err != nil {
		return nil, err
	}
	for i, id := range col.Items {
		if id != current.ID {
			continue
		}
		if i == len(col.Items)-1 {
			return nil, nil
		}
		return m.loadItem(ctx, col.Items[i+1])
	}
	return nil, fmt.Errorf("current item %s is not listed on collection progress %s: %w",
		current.ID, col.ID, domain.ErrConsistency)
}

func (m *CollectionManager) itemForSource(ctx context.Context, userID string, col *domain.CollectionProgress, ref domain.ContentRef) (*domain.ItemProgress, error) {
	// An empty source id would match any item of the collection.
	if ref.ContentID == "" {
		return nil, fmt.Errorf("current item of collection progress %s has no content id: %w", col.ID, domain.ErrConsistency)
	}
	ids, err := m.store.Query(ctx, store.Query{
		Bundle:       domain.BundleItem,
		OwnerUserID:  userID,
		SourceItemID: ref.ContentID,
		ParentID:     col.ID,
		Limit:        1,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no item progress for current item %s on collection progress %s: %w",
			ref.ContentID, col.ID, domain.ErrConsistency)
	}
	return m.loadItem(ctx, ids[0])
}

func (m *CollectionManager) loadItem(ctx context.Context, id string) (*domain.ItemProgress, error) {
	rec, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	item, ok := rec.(*domain.ItemProgress)
	if !ok {
		return nil, fmt.Errorf("record %s is a %s, not an item progress: %w", id, rec.Bundle(), domain.ErrConsistency)
	}
	return item, nil
}

func validateItems(col *domain.CollectionProgress) error {
	if col == nil {
		return fmt.Errorf("nil collection progress: %w", domain.ErrInvalidState)
	}
	if len(col.Items) == 0 {
		return fmt.Errorf("no item progress found on collection progress %s: %w", col.ID, domain.ErrInvalidState)
	}
	return nil
}

func isCompleted(item *domain.ItemProgress, completedID domain.StatusID) bool {
	return item.Status != "" && item.Status == completedID
}
