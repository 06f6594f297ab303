package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/example/learning-progress/services/progress/internal/domain"
	"github.com/example/learning-progress/services/progress/internal/store"
	"github.com/example/learning-progress/services/progress/internal/terms"
)

const testUser = "user-a"

var errDiskFull = fmt.Errorf("disk full: %w", domain.ErrPersistence)

// failingStore wraps the in-memory store and fails Save when fail returns
// an error for the record being written.
type failingStore struct {
	*store.InMemoryStore
	fail func(rec domain.Record) error
}

func (s *failingStore) Save(ctx context.Context, rec domain.Record) error {
	if s.fail != nil {
		if err := s.fail(rec); err != nil {
			return err
		}
	}
	return s.InMemoryStore.Save(ctx, rec)
}

type publishedEvent struct {
	subject string
	name    string
	userID  string
	props   map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(subject, eventName, userID string, props map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{subject: subject, name: eventName, userID: userID, props: props})
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *failingStore
	events *recordingPublisher
	orch   *Orchestrator
	col    *domain.CollectionProgress
	items  []*domain.ItemProgress
}

func videoContent(id string, seconds float64) domain.Content {
	return domain.Content{ID: id, RevisionID: id + "-r1", Kind: domain.KindVideo, DurationSeconds: &seconds}
}

func newCatalog() *store.InMemoryCatalog {
	entries := []domain.CollectionEntry{
		{Item: domain.ContentRef{ContentID: "p1", RevisionID: "p1-r1"}, TargetContentID: "v1"},
		{Item: domain.ContentRef{ContentID: "p2", RevisionID: "p2-r1"}, TargetContentID: "v2"},
		{Item: domain.ContentRef{ContentID: "p3", RevisionID: "p3-r1"}, TargetContentID: "m1"},
	}
	return store.NewInMemoryCatalog(
		domain.Content{ID: "col-1", RevisionID: "col-1-r1", Kind: domain.KindCollection, Entries: entries},
		domain.Content{ID: "col-empty", Kind: domain.KindCollection},
		videoContent("v1", 100),
		videoContent("v2", 100),
		videoContent("v-solo", 100),
		domain.Content{ID: "m1", Kind: domain.KindMeditation},
	)
}

// newFixture starts col-1 for testUser. Items p1 and p2 track videos, p3
// tracks a meditation.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	events := &recordingPublisher{}
	orch := NewOrchestrator(Options{
		Store:           fs,
		Content:         newCatalog(),
		Terms:           terms.DefaultDictionary(),
		Events:          events,
		ViewedThreshold: 3,
	})
	col, err := orch.StartCollection(context.Background(), testUser, "col-1")
	if err != nil {
		t.Fatalf("start collection: %v", err)
	}
	f := &fixture{store: fs, events: events, orch: orch, col: col}
	for _, id := range col.Items {
		f.items = append(f.items, f.item(t, id))
	}
	return f
}

func (f *fixture) item(t *testing.T, id string) *domain.ItemProgress {
	t.Helper()
	rec, err := f.store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("load item %s: %v", id, err)
	}
	item, ok := rec.(*domain.ItemProgress)
	if !ok {
		t.Fatalf("record %s is a %s", id, rec.Bundle())
	}
	return item
}

func (f *fixture) collection(t *testing.T) *domain.CollectionProgress {
	t.Helper()
	rec, err := f.store.Load(context.Background(), f.col.ID)
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	return rec.(*domain.CollectionProgress)
}

func (f *fixture) linkedVideo(t *testing.T, item *domain.ItemProgress) *domain.VideoProgress {
	t.Helper()
	v, err := f.orch.Items().linkedVideo(context.Background(), testUser, item)
	if err != nil {
		t.Fatalf("linked video: %v", err)
	}
	return v
}

func (f *fixture) currentSource(t *testing.T) string {
	t.Helper()
	col := f.collection(t)
	if col.CurrentItem == nil {
		return ""
	}
	return col.CurrentItem.ContentID
}
