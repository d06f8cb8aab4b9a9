package memory

import (
	"context"
	"sync"

	"security-risk-lab/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[string]storage.Checkpoint
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{data: make(map[string]storage.Checkpoint)}
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the checkpoint of source. Returns ErrNotFound if none saved.
func (s *CheckpointStore) GetCheckpoint(_ context.Context, source string) (*storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.data[source]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &cp, nil
}

// SetCheckpoint saves the checkpoint, replacing any previous one.
func (s *CheckpointStore) SetCheckpoint(_ context.Context, cp *storage.Checkpoint) error {
	if cp == nil || cp.Source == "" || cp.Offset < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.Source] = *cp
	return nil
}
