package idempotency

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore needs the processed_events table from the progress schema.
type postgresStore struct {
	pool   *pgxpool.Pool
	prefix string
}

func (s *postgresStore) Check(ctx context.Context, eventID string) (bool, error) {
	const q = `INSERT INTO processed_events (event_id, created_at)
	           VALUES ($1, now())
	           ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, s.prefix+eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Forget(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, s.prefix+eventID)
	return err
}
