package terms

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/example/learning-progress/services/progress/internal/domain"
)

// RemoteCache is the subset of cache.RedisCache used here.
type RemoteCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Cached memoizes resolved terms in process and, when remote is set, in a
// shared cache. Unresolved lookups are never cached. Remote cache failures
// are logged and fall through to the wrapped resolver.
type Cached struct {
	next   Resolver
	remote RemoteCache
	log    *zap.Logger

	mu   sync.RWMutex
	ids  map[domain.StatusKey]domain.StatusID
	keys map[domain.StatusID]domain.StatusKey
}

func NewCached(next Resolver, remote RemoteCache, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{
		next:   next,
		remote: remote,
		log:    log,
		ids:    make(map[domain.StatusKey]domain.StatusID),
		keys:   make(map[domain.StatusID]domain.StatusKey),
	}
}

func (c *Cached) Resolve(ctx context.Context, key domain.StatusKey) (domain.StatusID, error) {
	c.mu.RLock()
	id, ok := c.ids[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	if c.remote != nil {
		var cached string
		hit, err := c.remote.Get(ctx, "key:"+string(key), &cached)
		if err != nil {
			c.log.Warn("status cache get failed", zap.String("key", string(key)), zap.Error(err))
		} else if hit && cached != "" {
			c.remember(key, domain.StatusID(cached))
			return domain.StatusID(cached), nil
		}
	}

	id, err := c.next.Resolve(ctx, key)
	if err != nil || id == "" {
		return id, err
	}
	c.remember(key, id)
	if c.remote != nil {
		if err := c.remote.Set(ctx, "key:"+string(key), string(id)); err != nil {
			c.log.Warn("status cache set failed", zap.String("key", string(key)), zap.Error(err))
		}
	}
	return id, nil
}

func (c *Cached) Key(ctx context.Context, id domain.StatusID) (domain.StatusKey, error) {
	c.mu.RLock()
	key, ok := c.keys[id]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := c.next.Key(ctx, id)
	if err != nil || key == "" {
		return key, err
	}
	c.remember(key, id)
	return key, nil
}

func (c *Cached) remember(key domain.StatusKey, id domain.StatusID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
	c.keys[id] = key
}
