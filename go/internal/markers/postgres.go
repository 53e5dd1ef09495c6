package markers

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createMarkersTable = `
CREATE TABLE IF NOT EXISTS round_markers (
  kind           TEXT        NOT NULL,
  participant_id TEXT        NOT NULL,
  round_id       TEXT        NOT NULL,
  set_at         TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (kind, participant_id, round_id)
)`

// PostgresStore keeps markers in a round_markers table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the markers table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createMarkersTable); err != nil {
		return fmt.Errorf("failed to create round_markers: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key Key, at time.Time) (bool, error) {
	cmdTag, err := s.pool.Exec(ctx, `
        INSERT INTO round_markers (kind, participant_id, round_id, set_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (kind, participant_id, round_id) DO NOTHING
    `, string(key.Kind), key.ParticipantID, key.RoundID, at)
	if err != nil {
		return false, fmt.Errorf("failed to set marker %s: %w", key, err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key Key) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
        SELECT EXISTS (
          SELECT 1 FROM round_markers
          WHERE kind = $1 AND participant_id = $2 AND round_id = $3
        )
    `, string(key.Kind), key.ParticipantID, key.RoundID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check marker %s: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	_, err := s.pool.Exec(ctx, `
        DELETE FROM round_markers
        WHERE kind = $1 AND participant_id = $2 AND round_id = $3
    `, string(key.Kind), key.ParticipantID, key.RoundID)
	if err != nil {
		return fmt.Errorf("failed to delete marker %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Evict(ctx context.Context, before time.Time) (int64, error) {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM round_markers WHERE set_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to evict markers: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
