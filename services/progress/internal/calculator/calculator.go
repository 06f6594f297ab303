// Package calculator derives completion percentages and remaining-time
// labels from progress records. Nothing here mutates a record.
package calculator

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

type Calculator struct {
	store store.ProgressStore
	terms terms.Resolver
}

func New(s store.ProgressStore, t terms.Resolver) *Calculator {
	return &Calculator{store: s, terms: t}
}

// PercentComplete returns a value in [0, 100].
func (c *Calculator) PercentComplete(ctx context.Context, rec domain.Record) (int, error) {
	switch r := rec.(type) {
	case *domain.VideoProgress:
		return r.PercentageViewed, nil
	case *domain.CollectionProgress:
		total, completed, ok, err := c.collectionCounts(ctx, r)
		if err != nil || !ok || total == 0 {
			return 0, err
		}
		return int(math.Round(float64(completed) / float64(total) * 100)), nil
	}
	return 0, nil
}

// TimeRemainingLabel returns e.g. "4 mins left" for a video or
// "2 sessions left" for a collection, or "" when it cannot be computed.
func (c *Calculator) TimeRemainingLabel(ctx context.Context, rec domain.Record) (string, error) {
	switch r := rec.(type) {
	case *domain.VideoProgress:
		return videoTimeRemaining(r), nil
	case *domain.CollectionProgress:
		total, completed, ok, err := c.collectionCounts(ctx, r)
		if err != nil || !ok {
			return "", err
		}
		remaining := total - completed
		unit := "sessions"
		if remaining == 1 {
			unit = "session"
		}
		return fmt.Sprintf("%d %s left", remaining, unit), nil
	}
	return "", nil
}

func videoTimeRemaining(v *domain.VideoProgress) string {
	if v.PercentageViewed == 0 {
		return ""
	}
	viewed := float64(v.PercentageViewed)
	totalSecs := v.PlayheadPosition / (viewed / 100)
	remainingSecs := totalSecs * (100 - viewed) / 100
	mins := int(math.Round(remainingSecs / 60))
	unit := "mins"
	if mins == 1 {
		unit = "min"
	}
	return fmt.Sprintf("%d %s left", mins, unit)
}

// collectionCounts reports ok=false when the item list is empty or the
// completed status cannot be resolved.
func (c *Calculator) collectionCounts(ctx context.Context, col *domain.CollectionProgress) (total, completed int, ok bool, err error) {
	if len(col.Items) == 0 {
		return 0, 0, false, nil
	}
	completedID, err := c.terms.Resolve(ctx, domain.StatusCompleted)
	if err != nil {
		return 0, 0, false, err
	}
	if completedID == "" {
		return 0, 0, false, nil
	}
	for _, id := range col.Items {
		total++
		rec, err := c.store.Load(ctx, id)
		if err != nil {
			return 0, 0, false, fmt.Errorf("count items of %s: %w", col.ID, err)
		}
		item, isItem := rec.(*domain.ItemProgress)
		if !isItem || item.Status == "" || item.Status != completedID {
			continue
		}
		completed++
	}
	return total, completed, true, nil
}

// PlayheadUpdate is the new viewing state derived from a playhead position.
type PlayheadUpdate struct {
	ProgressSet      []int
	PercentageViewed int
}

// PlayheadProgress adds the playhead's percentage to the set of percentages
// seen and derives the viewed percentage. The first entry of the set is a
// baseline and is not counted. Returns nil when the video has no duration.
func PlayheadProgress(v *domain.VideoProgress, playheadSeconds, durationSeconds float64) *PlayheadUpdate {
	if durationSeconds <= 0 {
		return nil
	}
	pct := int(math.Round(playheadSeconds / durationSeconds * 100))
	pct = max(0, min(pct, 100))
	set := slices.Clone(v.ViewedPercentagesSeen)
	if !slices.Contains(set, pct) {
		set = append(set, pct)
	}
	return &PlayheadUpdate{
		ProgressSet:      set,
		PercentageViewed: len(set) - 1,
	}
}
