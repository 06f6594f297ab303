package progress

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

// ItemManager owns the status state machine of a single collection item and
// the compensating writes that undo a partially applied completion.
type ItemManager struct {
	store       store.ProgressStore
	content     store.ContentLookup
	terms       terms.Resolver
	collections *CollectionManager
	log         *zap.Logger
	now         func() time.Time
}

func NewItemManager(s store.ProgressStore, content store.ContentLookup, t terms.Resolver, collections *CollectionManager, log *zap.Logger) *ItemManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ItemManager{
		store:       s,
		content:     content,
		terms:       t,
		collections: collections,
		log:         log.With(zap.String("component", "item_manager")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type itemSnapshot struct {
	status           domain.StatusID
	completionMethod string
}

func snapshotItem(item *domain.ItemProgress) itemSnapshot {
	return itemSnapshot{status: item.Status, completionMethod: item.CompletionMethod}
}

func (s itemSnapshot) restore(item *domain.ItemProgress) {
	item.Status = s.status
	item.CompletionMethod = s.completionMethod
}

// MarkCompleted completes item and, when it was the collection's current
// item, moves the current pointer to the next incomplete item and starts it.
// It returns the newly current item, or item itself when nothing advanced.
//
// Writes happen in a fixed order: item, linked video, collection, next item.
// If a later write fails the earlier ones are compensated before the error
// is returned.
func (m *ItemManager) MarkCompleted(ctx context.Context, userID string, item *domain.ItemProgress, method string) (*domain.ItemProgress, error) {
	if item == nil {
		return nil, fmt.Errorf("mark completed: no item status: %w", domain.ErrInvalidState)
	}
	completedID, err := m.terms.Resolve(ctx, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if completedID == "" {
		return nil, fmt.Errorf("mark completed: status %q is not defined: %w", domain.StatusCompleted, domain.ErrInvalidState)
	}
	if isCompleted(item, completedID) {
		return item, nil
	}

	orig := snapshotItem(item)

	item.Status = completedID
	item.CompletionMethod = method
	if err := m.store.Save(ctx, item); err != nil {
		orig.restore(item)
		return nil, err
	}

	revertItem := func(ctx context.Context) error {
		orig.restore(item)
		return m.store.Save(ctx, item)
	}
	undoSync := func(ctx context.Context) error {
		return m.SyncLinkedVideoCompletion(ctx, userID, item, false)
	}
	restoreCurrent := func(ctx context.Context) error {
		_, err := m.SetAsCurrent(ctx, item)
		return err
	}

	if err := m.SyncLinkedVideoCompletion(ctx, userID, item, true); err != nil {
		return nil, m.compensate(ctx, item, err, revertItem)
	}

	col, err := m.parentCollection(ctx, item)
	if err != nil {
		return nil, m.compensate(ctx, item, err, revertItem, undoSync)
	}
	current, err := m.collections.GetCurrentItemProgress(ctx, userID, col)
	if err != nil {
		return nil, m.compensate(ctx, item, err, revertItem, undoSync)
	}
	if current == nil || current.ID != item.ID {
		return item, nil
	}

	next, err := m.nextCurrent(ctx, userID, col, completedID)
	if err != nil {
		return nil, m.compensate(ctx, item, err, revertItem, undoSync)
	}

	if next == nil {
		prevCurrent, prevCompletedAt := col.CurrentItem, col.CompletedAt
		now := m.now()
		col.CurrentItem = nil
		col.CompletedAt = &now
		if err := m.store.Save(ctx, col); err != nil {
			col.CurrentItem, col.CompletedAt = prevCurrent, prevCompletedAt
			return nil, m.compensate(ctx, item, err, revertItem, undoSync)
		}
		return item, nil
	}

	if _, err := m.SetAsCurrent(ctx, next); err != nil {
		return nil, m.compensate(ctx, item, err, revertItem, undoSync)
	}

	if _, err := m.MarkInProgress(ctx, next); err != nil {
		return nil, m.compensate(ctx, item, err, restoreCurrent, revertItem, undoSync)
	}
	return next, nil
}

// nextCurrent picks the item after the current one, or the first incomplete
// item anywhere in the list when the current item is last or its successor
// is already completed.
func (m *ItemManager) nextCurrent(ctx context.Context, userID string, col *domain.CollectionProgress, completedID domain.StatusID) (*domain.ItemProgress, error) {
	next, err := m.collections.GetNextItemProgress(ctx, userID, col)
	if err != nil {
		return nil, err
	}
	if next != nil && !isCompleted(next, completedID) {
		return next, nil
	}
	return m.collections.GetFirstIncompleteItemProgress(ctx, col)
}

// UnmarkCompleted puts item back in progress. The collection's current item
// is left alone. If the linked video cannot be reopened the item's previous
// status is restored.
func (m *ItemManager) UnmarkCompleted(ctx context.Context, userID string, item *domain.ItemProgress) (*domain.ItemProgress, error) {
	if item == nil {
		return nil, fmt.Errorf("unmark completed: no item status: %w", domain.ErrInvalidState)
	}
	orig := snapshotItem(item)

	if _, err := m.MarkInProgress(ctx, item); err != nil {
		return nil, err
	}

	if err := m.SyncLinkedVideoCompletion(ctx, userID, item, false); err != nil {
		return nil, m.compensate(ctx, item, err, func(ctx context.Context) error {
			item.Status = orig.status
			return m.store.Save(ctx, item)
		})
	}
	return item, nil
}

// MarkInProgress sets item's status to in-progress and persists it.
func (m *ItemManager) MarkInProgress(ctx context.Context, item *domain.ItemProgress) (*domain.ItemProgress, error) {
	if item == nil {
		return nil, fmt.Errorf("mark in progress: no item status: %w", domain.ErrInvalidState)
	}
	inProgressID, err := m.terms.Resolve(ctx, domain.StatusInProgress)
	if err != nil {
		return nil, err
	}
	prev := item.Status
	item.Status = inProgressID
	if err := m.store.Save(ctx, item); err != nil {
		item.Status = prev
		return nil, err
	}
	return item, nil
}

// SetAsCurrent points item's parent collection at item and returns the
// updated collection.
func (m *ItemManager) SetAsCurrent(ctx context.Context, item *domain.ItemProgress) (*domain.CollectionProgress, error) {
	col, err := m.parentCollection(ctx, item)
	if err != nil {
		return nil, err
	}
	ref := item.SourceItem
	col.CurrentItem = &ref
	if err := m.store.Save(ctx, col); err != nil {
		return nil, err
	}
	return col, nil
}

// GetStatus returns the symbolic key of item's status.
func (m *ItemManager) GetStatus(ctx context.Context, item *domain.ItemProgress) (domain.StatusKey, error) {
	if item == nil || item.Status == "" {
		return "", nil
	}
	return m.terms.Key(ctx, item.Status)
}

// SyncLinkedVideoCompletion stamps or clears the completion time of the
// video progress linked to item. Items whose content is not a trackable video
// are left alone. A missing video progress is created when completing and
// ignored when clearing.
func (m *ItemManager) SyncLinkedVideoCompletion(ctx context.Context, userID string, item *domain.ItemProgress, completed bool) error {
	content, err := m.content.LoadContent(ctx, item.TrackedContentID)
	if err != nil {
		return fmt.Errorf("load content %s: %w", item.TrackedContentID, err)
	}
	if content == nil {
		m.log.Warn("item references missing content",
			zap.String("item_progress_id", item.ID),
			zap.String("content_id", item.TrackedContentID))
		return nil
	}
	if !content.VideoTrackable() {
		return nil
	}

	video, err := m.linkedVideo(ctx, userID, item)
	if err != nil {
		return err
	}
	if video == nil {
		if !completed {
			return nil
		}
		video = newVideoProgress(userID, item.TrackedContentID, item.ID)
		if _, err := m.store.Create(ctx, video); err != nil {
			return err
		}
	}

	if completed {
		now := m.now()
		video.CompletedAt = &now
	} else {
		video.CompletedAt = nil
	}
	return m.store.Save(ctx, video)
}

func (m *ItemManager) linkedVideo(ctx context.Context, userID string, item *domain.ItemProgress) (*domain.VideoProgress, error) {
	ids, err := m.store.Query(ctx, store.Query{
		Bundle:       domain.BundleVideo,
		OwnerUserID:  userID,
		TrackedID:    item.TrackedContentID,
		ViewingType:  domain.ViewingCollection,
		LinkedItemID: item.ID,
		Limit:        1,
	})
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	rec, err := m.store.Load(ctx, ids[0])
	if err != nil {
		return nil, err
	}
	video, ok := rec.(*domain.VideoProgress)
	if !ok {
		return nil, fmt.Errorf("record %s is not a video progress: %w", ids[0], domain.ErrConsistency)
	}
	return video, nil
}

func (m *ItemManager) parentCollection(ctx context.Context, item *domain.ItemProgress) (*domain.CollectionProgress, error) {
	rec, err := m.store.Load(ctx, item.ParentCollectionProgressID)
	if err != nil {
		return nil, err
	}
	col, ok := rec.(*domain.CollectionProgress)
	if !ok {
		return nil, fmt.Errorf("parent %s of item %s is not a collection progress: %w",
			item.ParentCollectionProgressID, item.ID, domain.ErrConsistency)
	}
	return col, nil
}

// compensate runs steps in order and returns cause, or a RollbackError when
// any step failed. Steps run even if ctx is already cancelled.
func (m *ItemManager) compensate(ctx context.Context, item *domain.ItemProgress, cause error, steps ...func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	var failures []error
	for _, step := range steps {
		if err := step(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) == 0 {
		m.log.Info("rolled back item progress",
			zap.String("item_progress_id", item.ID), zap.Error(cause))
		return cause
	}
	rb := &domain.RollbackError{Cause: cause, Failures: failures}
	m.log.Error("item progress rollback incomplete",
		zap.String("item_progress_id", item.ID), zap.Error(rb))
	return rb
}

func newVideoProgress(userID, videoID, itemProgressID string) *domain.VideoProgress {
	v := &domain.VideoProgress{
		OwnerUserID:           userID,
		TrackedVideoID:        videoID,
		ViewingType:           domain.ViewingStandalone,
		ViewedPercentagesSeen: []int{0},
	}
	if itemProgressID != "" {
		v.ViewingType = domain.ViewingCollection
		v.LinkedItemProgressID = itemProgressID
	}
	return v
}
