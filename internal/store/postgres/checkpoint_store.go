package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// GetCheckpoint returns the stored cursor position, or zero if the cursor
// has never been written.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, name string) (uint64, error) {
	const query = `SELECT cursor FROM pipeline_checkpoints WHERE name = $1`

	var cur int64
	err := s.pool.QueryRow(ctx, query, name).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get checkpoint %s: %w", name, err)
	}
	return uint64(cur), nil
}

// SetCheckpoint upserts the cursor position.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, name string, cursor uint64) error {
	const query = `
		INSERT INTO pipeline_checkpoints (name, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, name, int64(cursor)); err != nil {
		return fmt.Errorf("postgres: set checkpoint %s: %w", name, err)
	}
	return nil
}
