package terms

import (
	"context"
	"errors"
	"testing"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

type countingResolver struct {
	Resolver
	resolveCalls int
	err          error
}

func (c *countingResolver) Resolve(ctx context.Context, key domain.StatusKey) (domain.StatusID, error) {
	c.resolveCalls++
	if c.err != nil {
		return "", c.err
	}
	return c.Resolver.Resolve(ctx, key)
}

type mapCache struct {
	data   map[string]string
	getErr error
}

func (m *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	if m.getErr != nil {
		return false, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return false, nil
	}
	*(dest.(*string)) = v
	return true, nil
}

func (m *mapCache) Set(_ context.Context, key string, value any) error {
	m.data[key] = value.(string)
	return nil
}

func TestDictionary_ResolveAndKey(t *testing.T) {
	d := DefaultDictionary()
	ctx := context.Background()

	id, err := d.Resolve(ctx, domain.StatusCompleted)
	if err != nil || id != "3" {
		t.Fatalf("expected 3, got %q (%v)", id, err)
	}
	key, _ := d.Key(ctx, id)
	if key != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", key)
	}
}

func TestDictionary_UnresolvedIsEmpty(t *testing.T) {
	id, err := DefaultDictionary().Resolve(context.Background(), "archived")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}

func TestCached_MemoizesResolved(t *testing.T) {
	next := &countingResolver{Resolver: DefaultDictionary()}
	c := NewCached(next, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if id, _ := c.Resolve(ctx, domain.StatusInProgress); id != "2" {
			t.Fatalf("expected 2, got %q", id)
		}
	}
	if next.resolveCalls != 1 {
		t.Fatalf("expected 1 backend call, got %d", next.resolveCalls)
	}
}

func TestCached_DoesNotCacheMisses(t *testing.T) {
	next := &countingResolver{Resolver: DefaultDictionary()}
	c := NewCached(next, nil, nil)
	ctx := context.Background()

	_, _ = c.Resolve(ctx, "archived")
	_, _ = c.Resolve(ctx, "archived")
	if next.resolveCalls != 2 {
		t.Fatalf("expected misses to reach backend every time, got %d calls", next.resolveCalls)
	}
}

func TestCached_UsesRemoteCache(t *testing.T) {
	remote := &mapCache{data: map[string]string{"key:completed": "99"}}
	next := &countingResolver{Resolver: DefaultDictionary()}
	c := NewCached(next, remote, nil)

	id, err := c.Resolve(context.Background(), domain.StatusCompleted)
	if err != nil || id != "99" {
		t.Fatalf("expected remote value 99, got %q (%v)", id, err)
	}
	if next.resolveCalls != 0 {
		t.Fatalf("expected no backend call, got %d", next.resolveCalls)
	}
}

func TestCached_RemoteFailureFallsThrough(t *testing.T) {
	remote := &mapCache{data: map[string]string{}, getErr: errors.New("redis down")}
	c := NewCached(DefaultDictionary(), remote, nil)

	id, err := c.Resolve(context.Background(), domain.StatusInitial)
	if err != nil || id != "1" {
		t.Fatalf("expected 1, got %q (%v)", id, err)
	}
	if remote.data["key:initial"] != "1" {
		t.Fatal("expected resolved value written back to remote cache")
	}
}

func TestCached_BackendError(t *testing.T) {
	boom := errors.New("db down")
	c := NewCached(&countingResolver{Resolver: DefaultDictionary(), err: boom}, nil, nil)
	if _, err := c.Resolve(context.Background(), domain.StatusInitial); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
