package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// Runs only when PROGRESS_TEST_DATABASE_URL points at a disposable database.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("PROGRESS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PROGRESS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	pool := newTestPool(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	rec, err := s.Create(ctx, &domain.VideoProgress{
		OwnerUserID:           "pg-user",
		TrackedVideoID:        "pg-vid",
		ViewingType:           domain.ViewingStandalone,
		ViewedPercentagesSeen: []int{0},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	video := rec.(*domain.VideoProgress)
	video.ViewedPercentagesSeen = append(video.ViewedPercentagesSeen, 25)
	video.PercentageViewed = 1
	if err := s.Save(ctx, video); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(ctx, video.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := loaded.(*domain.VideoProgress)
	if got.PercentageViewed != 1 || len(got.ViewedPercentagesSeen) != 2 {
		t.Fatalf("unexpected video after round trip: %+v", got)
	}

	ids, err := s.Query(ctx, Query{Bundle: domain.BundleVideo, OwnerUserID: "pg-user", TrackedID: "pg-vid", ActiveOnly: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected at least one id")
	}
}

func TestPostgresStore_LoadMalformedID(t *testing.T) {
	s := NewPostgresStore(nil)
	_, err := s.Load(context.Background(), "not-a-uuid")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresCatalog_UpsertRejectsEntryWithoutContentID(t *testing.T) {
	catalog := NewPostgresCatalog(nil)
	bad := domain.Content{ID: "c1", Kind: domain.KindCollection, Entries: []domain.CollectionEntry{
		{TargetContentID: "v1"},
	}}
	if err := catalog.Upsert(context.Background(), bad); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
