// Package domain holds the progress record variants and the error kinds
// shared by the progress service packages.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// Bundle tags the variant of a progress record.
type Bundle string

const (
	BundleCollection Bundle = "collection_progress"
	BundleItem       Bundle = "collection_item_progress"
	BundleVideo      Bundle = "video_progress"
)

// StatusKey is the symbolic name of an item status.
type StatusKey string

const (
	StatusInitial    StatusKey = "initial"
	StatusInProgress StatusKey = "in-progress"
	StatusCompleted  StatusKey = "completed"
)

// StatusID is the canonical identifier a StatusKey resolves to.
// The empty value means "no such status".
type StatusID string

// ViewingType says whether a video is watched on its own or as a collection item.
type ViewingType string

const (
	ViewingStandalone ViewingType = "standalone"
	ViewingCollection ViewingType = "collection"
)

// Completion methods recorded on items.
const (
	CompletionManual = "manual"
	CompletionViewed = "viewed"
)

// ContentRef points at a specific revision of a piece of content.
type ContentRef struct {
	ContentID  string `json:"content_id"`
	RevisionID string `json:"revision_id,omitempty"`
}

// Record is implemented by every progress record variant.
type Record interface {
	RecordID() string
	Bundle() Bundle
	Owner() string
	setID(id string)
}

// AssignID sets the id of a record that has not been persisted yet.
func AssignID(r Record, id string) { r.setID(id) }

// CollectionProgress tracks a user's engagement with a whole collection.
type CollectionProgress struct {
	ID                  string      `json:"id"`
	OwnerUserID         string      `json:"owner_user_id"`
	TrackedCollectionID string      `json:"tracked_collection_id"`
	Items               []string    `json:"items"`
	CurrentItem         *ContentRef `json:"current_item,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
}

func (c *CollectionProgress) RecordID() string { return c.ID }
func (c *CollectionProgress) Bundle() Bundle { return BundleCollection }
func (c *CollectionProgress) Owner() string { return c.OwnerUserID }
func (c *CollectionProgress) setID(id string) { c.ID = id }

// Clone returns a deep copy.
func (c *CollectionProgress) Clone() *CollectionProgress {
	out := *c
	out.Items = slices.Clone(c.Items)
	if c.CurrentItem != nil {
		ref := *c.CurrentItem
		out.CurrentItem = &ref
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ItemProgress tracks one item of a collection.
type ItemProgress struct {
	ID                         string     `json:"id"`
	OwnerUserID                string     `json:"owner_user_id"`
	ParentCollectionProgressID string     `json:"parent_collection_progress_id"`
	SourceItem                 ContentRef `json:"source_item"`
	TrackedContentID           string     `json:"tracked_content_id"`
	Status                     StatusID   `json:"status,omitempty"`
	CompletionMethod           string     `json:"completion_method,omitempty"`
}

func (i *ItemProgress) RecordID() string { return i.ID }
func (i *ItemProgress) Bundle() Bundle { return BundleItem }
func (i *ItemProgress) Owner() string { return i.OwnerUserID }
func (i *ItemProgress) setID(id string) { i.ID = id }

// Clone returns a copy.
func (i *ItemProgress) Clone() *ItemProgress {
	out := *i
	return &out
}

// VideoProgress tracks playback of one video, standalone or inside a collection.
type VideoProgress struct {
	ID                    string      `json:"id"`
	OwnerUserID           string      `json:"owner_user_id"`
	TrackedVideoID        string      `json:"tracked_video_id"`
	ViewingType           ViewingType `json:"viewing_type"`
	LinkedItemProgressID  string      `json:"linked_item_progress_id,omitempty"`
	PlayheadPosition      float64     `json:"playhead_position"`
	ViewedPercentagesSeen []int       `json:"viewed_percentages_seen"`
	PercentageViewed      int         `json:"percentage_viewed"`
	CompletedAt           *time.Time  `json:"completed_at,omitempty"`
}

func (v *VideoProgress) RecordID() string { return v.ID }
func (v *VideoProgress) Bundle() Bundle { return BundleVideo }
func (v *VideoProgress) Owner() string { return v.OwnerUserID }
func (v *VideoProgress) setID(id string) { v.ID = id }

// Clone returns a deep copy.
func (v *VideoProgress) Clone() *VideoProgress {
	out := *v
	out.ViewedPercentagesSeen = slices.Clone(v.ViewedPercentagesSeen)
	if v.CompletedAt != nil {
		t := *v.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// CloneRecord deep-copies any record variant.
func CloneRecord(r Record) Record {
	switch v := r.(type) {
	case *CollectionProgress:
		return v.Clone()
	case *ItemProgress:
		return v.Clone()
	case *VideoProgress:
		return v.Clone()
	default:
		return r
	}
}

// ContentKind is the bundle of a piece of tracked content.
type ContentKind string

const (
	KindCollection ContentKind = "collection"
	KindVideo      ContentKind = "instructional_video"
	KindMeditation ContentKind = "meditation"
)

// CollectionEntry is one item of a collection: the item itself and the
// content it points at.
type CollectionEntry struct {
	Item            ContentRef `json:"item"`
	TargetContentID string     `json:"target_content_id"`
}

// Content is the read-only view of a tracked piece of content.
type Content struct {
	ID              string            `json:"id"`
	RevisionID      string            `json:"revision_id"`
	Kind            ContentKind       `json:"kind"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	Entries         []CollectionEntry `json:"entries,omitempty"`
}

// VideoTrackable reports whether the content keeps its own video progress.
func (c *Content) VideoTrackable() bool {
	return c != nil && c.Kind == KindVideo
}

// Validate checks the fields progress tracking relies on: an id, and a
// source content id on every collection entry.
func (c Content) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("content: missing id: %w", ErrInvalidState)
	}
	for i, e := range c.Entries {
		if e.Item.ContentID == "" {
			return fmt.Errorf("content %s: entry %d has no item content_id: %w", c.ID, i, ErrInvalidState)
		}
	}
	return nil
}
