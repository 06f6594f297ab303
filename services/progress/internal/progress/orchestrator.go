// Package progress implements the progress state machine: item status
// transitions, collection traversal, and the orchestration that keeps a
// collection's current item consistent with its items.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/learning-progress/services/progress/internal/calculator"
	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

// Event subjects published after successful transitions.
const (
	SubjectItemCompleted       = "progress.item.completed"
	SubjectItemReopened        = "progress.item.reopened"
	SubjectCollectionCompleted = "progress.collection.completed"
	SubjectVideoCompleted      = "progress.video.completed"
)

// DefaultViewedThreshold is the viewed percentage at which a video counts as watched.
const DefaultViewedThreshold = 90

// EventPublisher is satisfied by events.Publisher. Publishing is
// fire-and-forget.
type EventPublisher interface {
	Publish(subject, eventName, userID string, props map[string]any)
}

type Options struct {
	Store   store.ProgressStore
	Content store.ContentLookup
	Terms   terms.Resolver
	Events  EventPublisher
	Logger  *zap.Logger

	// ViewedThreshold defaults to DefaultViewedThreshold.
	ViewedThreshold int
}

// Orchestrator is the entry point for transports. Every call reads the
// records it needs fresh and only touches records owned by userID.
type Orchestrator struct {
	store       store.ProgressStore
	content     store.ContentLookup
	terms       terms.Resolver
	events      EventPublisher
	log         *zap.Logger
	threshold   int
	items       *ItemManager
	collections *CollectionManager
	calc        *calculator.Calculator
}

func NewOrchestrator(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	threshold := opts.ViewedThreshold
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultViewedThreshold
	}
	collections := NewCollectionManager(opts.Store, opts.Terms)
	return &Orchestrator{
		store:       opts.Store,
		content:     opts.Content,
		terms:       opts.Terms,
		events:      opts.Events,
		log:         log.With(zap.String("component", "orchestrator")),
		threshold:   threshold,
		items:       NewItemManager(opts.Store, opts.Content, opts.Terms, collections, log),
		collections: collections,
		calc:        calculator.New(opts.Store, opts.Terms),
	}
}

// Items exposes the item manager.
func (o *Orchestrator) Items() *ItemManager { return o.items }

// Collections exposes the collection manager.
func (o *Orchestrator) Collections() *CollectionManager { return o.collections }

// Calculator exposes the completion calculator.
func (o *Orchestrator) Calculator() *calculator.Calculator { return o.calc }

// MarkCompleted completes an item progress. See ItemManager.MarkCompleted.
func (o *Orchestrator) MarkCompleted(ctx context.Context, userID, itemID, method string) (*domain.ItemProgress, error) {
	item, err := o.loadItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = domain.CompletionManual
	}

	wasCompleted, err := o.hasStatus(ctx, item, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	colWasDone := o.collectionDone(ctx, item)

	result, err := o.items.MarkCompleted(ctx, userID, item, method)
	if err != nil {
		o.log.Warn("mark completed failed",
			zap.String("user_id", userID),
			zap.String("item_progress_id", itemID),
			zap.Bool("retryable", domain.IsRetryable(err)),
			zap.Error(err))
		return nil, err
	}
	if wasCompleted {
		return result, nil
	}

	props := map[string]any{
		"item_progress_id":       item.ID,
		"collection_progress_id": item.ParentCollectionProgressID,
		"completion_method":      method,
	}
	if result.ID != item.ID {
		props["current_item_progress_id"] = result.ID
	}
	o.publish(SubjectItemCompleted, "item_completed", userID, props)
	o.log.Info("item completed",
		zap.String("user_id", userID),
		zap.String("item_progress_id", item.ID),
		zap.String("current_item_progress_id", result.ID))

	if !colWasDone && o.collectionDone(ctx, item) {
		o.publish(SubjectCollectionCompleted, "collection_completed", userID, map[string]any{
			"collection_progress_id": item.ParentCollectionProgressID,
		})
		o.log.Info("collection completed",
			zap.String("user_id", userID),
			zap.String("collection_progress_id", item.ParentCollectionProgressID))
	}
	return result, nil
}

func (o *Orchestrator) collectionDone(ctx context.Context, item *domain.ItemProgress) bool {
	col, err := o.items.parentCollection(ctx, item)
	return err == nil && col.CompletedAt != nil
}

// UnmarkCompleted reopens a completed item progress.
func (o *Orchestrator) UnmarkCompleted(ctx context.Context, userID, itemID string) (*domain.ItemProgress, error) {
	item, err := o.loadItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	out, err := o.items.UnmarkCompleted(ctx, userID, item)
	if err != nil {
		o.log.Warn("unmark completed failed",
			zap.String("user_id", userID),
			zap.String("item_progress_id", itemID),
			zap.Error(err))
		return nil, err
	}
	o.publish(SubjectItemReopened, "item_reopened", userID, map[string]any{
		"item_progress_id":       out.ID,
		"collection_progress_id": out.ParentCollectionProgressID,
	})
	return out, nil
}

// StartCollection returns the user's active progress on collectionID,
// creating it and one item progress per collection entry when absent. The
// first item becomes current and in progress.
func (o *Orchestrator) StartCollection(ctx context.Context, userID, collectionID string) (*domain.CollectionProgress, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if existing, err := o.activeRecord(ctx, store.Query{
		Bundle:      domain.BundleCollection,
		OwnerUserID: userID,
		TrackedID:   collectionID,
	}); err != nil || existing != nil {
		if err != nil {
			return nil, err
		}
		return asCollection(existing)
	}

	content, err := o.content.LoadContent(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("collection %s: %w", collectionID, domain.ErrNotFound)
	}
	if content.Kind != domain.KindCollection {
		return nil, fmt.Errorf("content %s is a %s, not a collection: %w", collectionID, content.Kind, domain.ErrInvalidState)
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}

	col := &domain.CollectionProgress{OwnerUserID: userID, TrackedCollectionID: collectionID}
	if _, err := o.store.Create(ctx, col); err != nil {
		return nil, err
	}
	if len(content.Entries) == 0 {
		return col, nil
	}

	initialID, err := o.terms.Resolve(ctx, domain.StatusInitial)
	if err != nil {
		return nil, err
	}
	items := make([]*domain.ItemProgress, 0, len(content.Entries))
	for _, entry := range content.Entries {
		item := &domain.ItemProgress{
			OwnerUserID:                userID,
			ParentCollectionProgressID: col.ID,
			SourceItem:                 entry.Item,
			TrackedContentID:           entry.TargetContentID,
			Status:                     initialID,
		}
		if _, err := o.store.Create(ctx, item); err != nil {
			return nil, err
		}
		items = append(items, item)
		col.Items = append(col.Items, item.ID)
	}

	first := items[0]
	ref := first.SourceItem
	col.CurrentItem = &ref
	if err := o.store.Save(ctx, col); err != nil {
		return nil, err
	}
	if _, err := o.items.MarkInProgress(ctx, first); err != nil {
		return nil, err
	}

	o.log.Info("collection progress created",
		zap.String("user_id", userID),
		zap.String("collection_id", collectionID),
		zap.String("collection_progress_id", col.ID),
		zap.Int("items", len(items)))
	return col, nil
}

// StartVideo returns the user's active progress on videoID, creating it when
// absent. A non-empty itemProgressID scopes the video to that collection item.
func (o *Orchestrator) StartVideo(ctx context.Context, userID, videoID, itemProgressID string) (*domain.VideoProgress, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	content, err := o.content.LoadContent(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, domain.ErrNotFound)
	}
	if !content.VideoTrackable() {
		return nil, fmt.Errorf("content %s is a %s, not a trackable video: %w", videoID, content.Kind, domain.ErrInvalidState)
	}

	q := store.Query{
		Bundle:      domain.BundleVideo,
		OwnerUserID: userID,
		TrackedID:   videoID,
		ViewingType: domain.ViewingStandalone,
	}
	if itemProgressID != "" {
		item, err := o.loadItem(ctx, userID, itemProgressID)
		if err != nil {
			return nil, err
		}
		if item.TrackedContentID != videoID {
			return nil, fmt.Errorf("item progress %s tracks %s, not video %s: %w",
				item.ID, item.TrackedContentID, videoID, domain.ErrInvalidState)
		}
		q.ViewingType = domain.ViewingCollection
		q.LinkedItemID = item.ID
	}

	existing, err := o.activeRecord(ctx, q)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return asVideo(existing)
	}

	video := newVideoProgress(userID, videoID, itemProgressID)
	if _, err := o.store.Create(ctx, video); err != nil {
		return nil, err
	}
	return video, nil
}

// RecordPlayhead stores a new playhead position and updates the viewed
// percentage. Once the viewed percentage reaches the threshold a linked
// item is completed with the "viewed" method, and a standalone video gets
// its completion time.
func (o *Orchestrator) RecordPlayhead(ctx context.Context, userID, videoProgressID string, playheadSeconds float64) (*domain.VideoProgress, error) {
	if playheadSeconds < 0 {
		playheadSeconds = 0
	}
	rec, err := o.loadOwned(ctx, userID, videoProgressID)
	if err != nil {
		return nil, err
	}
	video, err := asVideo(rec)
	if err != nil {
		return nil, err
	}

	content, err := o.content.LoadContent(ctx, video.TrackedVideoID)
	if err != nil {
		return nil, err
	}
	video.PlayheadPosition = playheadSeconds
	if content != nil && content.DurationSeconds != nil {
		if up := calculator.PlayheadProgress(video, playheadSeconds, *content.DurationSeconds); up != nil {
			video.ViewedPercentagesSeen = up.ProgressSet
			video.PercentageViewed = up.PercentageViewed
		}
	}
	if err := o.store.Save(ctx, video); err != nil {
		return nil, err
	}

	if video.CompletedAt != nil || video.PercentageViewed < o.threshold {
		return video, nil
	}

	if video.ViewingType == domain.ViewingCollection && video.LinkedItemProgressID != "" {
		if _, err := o.MarkCompleted(ctx, userID, video.LinkedItemProgressID, domain.CompletionViewed); err != nil {
			return nil, err
		}
		rec, err := o.store.Load(ctx, video.ID)
		if err != nil {
			return nil, err
		}
		reloaded, err := asVideo(rec)
		if err != nil {
			return nil, err
		}
		// Completing the item stamps the oldest linked video. A later viewing
		// of an already completed item is stamped here.
		if reloaded.CompletedAt != nil {
			return reloaded, nil
		}
		now := time.Now().UTC()
		reloaded.CompletedAt = &now
		if err := o.store.Save(ctx, reloaded); err != nil {
			return nil, err
		}
		return reloaded, nil
	}

	now := time.Now().UTC()
	video.CompletedAt = &now
	if err := o.store.Save(ctx, video); err != nil {
		video.CompletedAt = nil
		return nil, err
	}
	o.publish(SubjectVideoCompleted, "video_completed", userID, map[string]any{
		"video_progress_id": video.ID,
		"video_id":          video.TrackedVideoID,
	})
	return video, nil
}

// Summary is a progress record with its derived display values.
type Summary struct {
	Record        domain.Record    `json:"record"`
	Bundle        domain.Bundle    `json:"bundle"`
	Percent       int              `json:"percent"`
	TimeRemaining string           `json:"time_remaining,omitempty"`
	Status        domain.StatusKey `json:"status,omitempty"`
}

// Summary loads a record owned by userID and derives its display values.
func (o *Orchestrator) Summary(ctx context.Context, userID, recordID string) (Summary, error) {
	rec, err := o.loadOwned(ctx, userID, recordID)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{Record: rec, Bundle: rec.Bundle()}
	if out.Percent, err = o.calc.PercentComplete(ctx, rec); err != nil {
		return Summary{}, err
	}
	if out.TimeRemaining, err = o.calc.TimeRemainingLabel(ctx, rec); err != nil {
		return Summary{}, err
	}
	if item, ok := rec.(*domain.ItemProgress); ok {
		if out.Status, err = o.items.GetStatus(ctx, item); err != nil {
			return Summary{}, err
		}
	}
	return out, nil
}

// PercentForContent returns the completion percentage of the user's active
// progress on a collection or standalone video, or 0 when there is none.
func (o *Orchestrator) PercentForContent(ctx context.Context, userID, contentID string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	content, err := o.content.LoadContent(ctx, contentID)
	if err != nil {
		return 0, err
	}
	if content == nil {
		return 0, fmt.Errorf("content %s: %w", contentID, domain.ErrNotFound)
	}

	q := store.Query{OwnerUserID: userID, TrackedID: contentID}
	switch {
	case content.Kind == domain.KindCollection:
		q.Bundle = domain.BundleCollection
	case content.VideoTrackable():
		q.Bundle = domain.BundleVideo
		q.ViewingType = domain.ViewingStandalone
	default:
		return 0, nil
	}
	rec, err := o.activeRecord(ctx, q)
	if err != nil || rec == nil {
		return 0, err
	}
	return o.calc.PercentComplete(ctx, rec)
}

func (o *Orchestrator) activeRecord(ctx context.Context, q store.Query) (domain.Record, error) {
	q.ActiveOnly = true
	q.Limit = 1
	ids, err := o.store.Query(ctx, q)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return o.store.Load(ctx, ids[0])
}

func (o *Orchestrator) loadOwned(ctx context.Context, userID, id string) (domain.Record, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	rec, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner() != userID {
		return nil, fmt.Errorf("progress record %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

func (o *Orchestrator) loadItem(ctx context.Context, userID, id string) (*domain.ItemProgress, error) {
	rec, err := o.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	item, ok := rec.(*domain.ItemProgress)
	if !ok {
		return nil, fmt.Errorf("record %s is a %s and has no item status: %w", id, rec.Bundle(), domain.ErrInvalidState)
	}
	return item, nil
}

func (o *Orchestrator) hasStatus(ctx context.Context, item *domain.ItemProgress, key domain.StatusKey) (bool, error) {
	id, err := o.terms.Resolve(ctx, key)
	if err != nil {
		return false, err
	}
	return id != "" && item.Status == id, nil
}

func (o *Orchestrator) publish(subject, name, userID string, props map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Publish(subject, name, userID, props)
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("requesting user id is required: %w", domain.ErrInvalidState)
	}
	return nil
}

func asCollection(rec domain.Record) (*domain.CollectionProgress, error) {
	col, ok := rec.(*domain.CollectionProgress)
	if !ok {
		return nil, fmt.Errorf("record %s is a %s, not a collection progress: %w", rec.RecordID(), rec.Bundle(), domain.ErrInvalidState)
	}
	return col, nil
}

func asVideo(rec domain.Record) (*domain.VideoProgress, error) {
	video, ok := rec.(*domain.VideoProgress)
	if !ok {
		return nil, fmt.Errorf("record %s is a %s, not a video progress: %w", rec.RecordID(), rec.Bundle(), domain.ErrInvalidState)
	}
	return video, nil
}
