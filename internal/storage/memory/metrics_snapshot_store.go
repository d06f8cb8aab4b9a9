package memory

import (
	"context"
	"sync"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// MetricsSnapshotStore is an in-memory implementation of storage.MetricsSnapshotStore.
type MetricsSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]domain.MetricsSnapshot
}

// NewMetricsSnapshotStore creates a new in-memory snapshot store.
func NewMetricsSnapshotStore() *MetricsSnapshotStore {
	return &MetricsSnapshotStore{data: make(map[string]domain.MetricsSnapshot)}
}

var _ storage.MetricsSnapshotStore = (*MetricsSnapshotStore)(nil)

// Save replaces the stored snapshot of model.
func (s *MetricsSnapshotStore) Save(_ context.Context, model string, snapshot domain.MetricsSnapshot) error {
	if model == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[model] = snapshot.Clone()
	return nil
}

// Load returns the stored snapshot of model. Returns ErrNotFound if none.
func (s *MetricsSnapshotStore) Load(_ context.Context, model string) (domain.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[model]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap.Clone(), nil
}

// LoadAll returns every stored snapshot keyed by model name.
func (s *MetricsSnapshotStore) LoadAll(_ context.Context) (map[string]domain.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.MetricsSnapshot, len(s.data))
	for k, v := range s.data {
		out[k] = v.Clone()
	}
	return out, nil
}
