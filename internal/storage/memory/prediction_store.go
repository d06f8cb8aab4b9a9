package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// PredictionStore is an in-memory implementation of storage.PredictionStore.
type PredictionStore struct {
	mu      sync.RWMutex
	ids     map[string]struct{}
	byModel map[string][]*domain.PredictionRecord
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		ids:     make(map[string]struct{}),
		byModel: make(map[string][]*domain.PredictionRecord),
	}
}

var _ storage.PredictionStore = (*PredictionStore)(nil)

// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate.
func (s *PredictionStore) InsertBulk(_ context.Context, records []*domain.PredictionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.ID == "" || r.ModelName == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.ids[r.ID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[r.ID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.ID] = struct{}{}
	}

	for _, r := range records {
		copy := *r
		s.ids[r.ID] = struct{}{}
		s.byModel[r.ModelName] = append(s.byModel[r.ModelName], &copy)
	}
	return nil
}

// GetByModel retrieves predictions of a model within [start, end] (inclusive).
func (s *PredictionStore) GetByModel(_ context.Context, model string, start, end time.Time) ([]*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PredictionRecord
	for _, r := range s.byModel[model] {
		if r.CreatedAt.Before(start) || r.CreatedAt.After(end) {
			continue
		}
		copy := *r
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
