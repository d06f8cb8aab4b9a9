package postgres

import (
	"context"
	"fmt"

	"security-risk-lab/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the checkpoint of source. Returns ErrNotFound if none saved.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, source string) (*storage.Checkpoint, error) {
	var cp storage.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT source, event_offset, updated_at
		FROM source_checkpoints
		WHERE source = $1
	`, source).Scan(&cp.Source, &cp.Offset, &cp.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}

// SetCheckpoint saves the checkpoint, replacing any previous one.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	if cp == nil || cp.Source == "" || cp.Offset < 0 {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_checkpoints (source, event_offset, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE
		SET event_offset = EXCLUDED.event_offset, updated_at = EXCLUDED.updated_at
	`, cp.Source, cp.Offset, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}
