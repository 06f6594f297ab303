package domain

import (
	"errors"
	"testing"
)

func TestContentValidate(t *testing.T) {
	ok := Content{ID: "c1", Kind: KindCollection, Entries: []CollectionEntry{
		{Item: ContentRef{ContentID: "p1"}, TargetContentID: "v1"},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid content, got %v", err)
	}
	if err := (Content{Kind: KindVideo}).Validate(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for missing id, got %v", err)
	}
	noItemID := Content{ID: "c1", Kind: KindCollection, Entries: []CollectionEntry{
		{Item: ContentRef{RevisionID: "p1-r1"}, TargetContentID: "v1"},
	}}
	if err := noItemID.Validate(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state for entry without content id, got %v", err)
	}
}
