package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// AssessmentStore is an in-memory implementation of storage.AssessmentStore.
type AssessmentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RiskAssessment // keyed by id
}

// NewAssessmentStore creates a new in-memory assessment store.
func NewAssessmentStore() *AssessmentStore {
	return &AssessmentStore{
		data: make(map[string]*domain.RiskAssessment),
	}
}

var _ storage.AssessmentStore = (*AssessmentStore)(nil)

// Insert adds a new assessment. Returns ErrDuplicateKey if id exists.
func (s *AssessmentStore) Insert(_ context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[a.ID] = cloneAssessment(a)
	return nil
}

// GetByID retrieves an assessment by its ID. Returns ErrNotFound if not exists.
func (s *AssessmentStore) GetByID(_ context.Context, id string) (*domain.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAssessment(a), nil
}

// GetByEventID retrieves all assessments of an event, ordered by created_at ASC.
func (s *AssessmentStore) GetByEventID(_ context.Context, eventID string) ([]*domain.RiskAssessment, error) {
	return s.filter(func(a *domain.RiskAssessment) bool { return a.EventID == eventID }), nil
}

// GetByTimeRange retrieves assessments created within [start, end] (inclusive).
func (s *AssessmentStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.RiskAssessment, error) {
	return s.filter(func(a *domain.RiskAssessment) bool {
		return !a.CreatedAt.Before(start) && !a.CreatedAt.After(end)
	}), nil
}

func (s *AssessmentStore) filter(keep func(*domain.RiskAssessment) bool) []*domain.RiskAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskAssessment
	for _, a := range s.data {
		if keep(a) {
			result = append(result, cloneAssessment(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// cloneAssessment deep-copies the maps and slices of an assessment.
func cloneAssessment(a *domain.RiskAssessment) *domain.RiskAssessment {
	c := *a
	if a.ComponentScores != nil {
		c.ComponentScores = make(map[string]domain.ModelScore, len(a.ComponentScores))
		for k, v := range a.ComponentScores {
			if v.Confidence != nil {
				conf := *v.Confidence
				v.Confidence = &conf
			}
			c.ComponentScores[k] = v
		}
	}
	if a.Recommendations != nil {
		c.Recommendations = append([]string(nil), a.Recommendations...)
	}
	if a.ModelMetrics != nil {
		c.ModelMetrics = make(map[string]domain.MetricsSnapshot, len(a.ModelMetrics))
		for k, v := range a.ModelMetrics {
			c.ModelMetrics[k] = v.Clone()
		}
	}
	return &c
}
