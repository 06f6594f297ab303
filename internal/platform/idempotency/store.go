// Package idempotency deduplicates message ids for at-least-once consumers.
//
// Backends, in order of preference: Redis SETNX with TTL, Postgres
// INSERT ... ON CONFLICT on processed_events, and an in-memory set for
// development.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Store checks whether an event has already been processed and marks it.
type Store interface {
	// Check returns true if eventID was already processed.
	// If not seen, it atomically marks it as processed.
	Check(ctx context.Context, eventID string) (duplicate bool, err error)
	// Forget unmarks eventID so a failed delivery can be retried.
	Forget(ctx context.Context, eventID string) error
}

type Options struct {
	Redis  *redis.Client
	Pool   *pgxpool.Pool
	Prefix string
	TTL    time.Duration
	IsProd bool
}

// NewStore picks the best available backend: Redis > Postgres > memory.
// In production the memory fallback is refused.
func NewStore(opts Options) (Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Redis != nil {
		return &redisStore{client: opts.Redis, prefix: opts.Prefix, ttl: opts.TTL}, nil
	}
	if opts.Pool != nil {
		return &postgresStore{pool: opts.Pool, prefix: opts.Prefix}, nil
	}
	if opts.IsProd {
		return nil, errors.New("production requires redis or postgres for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(), nil
}
