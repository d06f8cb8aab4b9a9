// Package metrics accumulates per-model performance metrics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"security-risk-lab/internal/domain"
)

// Common metric names.
const (
	Accuracy          = "accuracy"
	Precision         = "precision"
	Recall            = "recall"
	F1Score           = "f1_score"
	FalsePositiveRate = "false_positive_rate"
	DetectionRate     = "detection_rate"
	Support           = "support"
)

// Store holds one MetricsSnapshot per model name.
// Writers to the same model are serialized; readers never block writers.
type Store struct {
	mu     sync.RWMutex
	models map[string]*modelEntry

	// beforeLock runs in Update between the entry lookup and taking the
	// entry lock. Tests only.
	beforeLock func()
}

type modelEntry struct {
	mu      sync.Mutex
	snap    atomic.Pointer[domain.MetricsSnapshot]
	retired bool // removed from the map by Reset; guarded by mu
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{models: make(map[string]*modelEntry)}
}

// Update merges m into the model's snapshot: new keys are added, existing
// keys overwritten, other models untouched.
func (s *Store) Update(model string, m domain.MetricsSnapshot) error {
	if model == "" {
		return domain.NewValidationError("model", "model name is empty")
	}
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.NewValidationError(k, "metric value %v is not finite", v)
		}
	}

	e := s.lockedEntry(model)
	defer e.mu.Unlock()

	next := make(domain.MetricsSnapshot)
	if cur := e.snap.Load(); cur != nil {
		for k, v := range *cur {
			next[k] = v
		}
	}
	for k, v := range m {
		next[k] = v
	}
	e.snap.Store(&next)
	return nil
}

// Snapshot returns a copy of the model's metrics. Unknown models yield an
// empty, non-nil snapshot.
func (s *Store) Snapshot(model string) domain.MetricsSnapshot {
	s.mu.RLock()
	e, ok := s.models[model]
	s.mu.RUnlock()
	if !ok {
		return domain.MetricsSnapshot{}
	}
	cur := e.snap.Load()
	if cur == nil {
		return domain.MetricsSnapshot{}
	}
	return cur.Clone()
}

// Models returns the names of models with metrics, sorted.
func (s *Store) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name, e := range s.models {
		if e.snap.Load() != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Reset drops the metrics of one model. An Update racing with Reset is
// applied either before the reset or to the fresh entry after it.
func (s *Store) Reset(model string) {
	s.mu.Lock()
	e, ok := s.models[model]
	delete(s.models, model)
	s.mu.Unlock()
	if ok {
		e.retire()
	}
}

// ResetAll drops every model's metrics.
func (s *Store) ResetAll() {
	s.mu.Lock()
	old := s.models
	s.models = make(map[string]*modelEntry)
	s.mu.Unlock()
	for _, e := range old {
		e.retire()
	}
}

func (e *modelEntry) retire() {
	e.mu.Lock()
	e.retired = true
	e.mu.Unlock()
}

// lockedEntry returns the live entry of model with its lock held, retrying
// when a Reset retired the entry before the lock was taken.
func (s *Store) lockedEntry(model string) *modelEntry {
	for {
		e := s.entry(model)
		if s.beforeLock != nil {
			s.beforeLock()
		}
		e.mu.Lock()
		if !e.retired {
			return e
		}
		e.mu.Unlock()
	}
}

func (s *Store) entry(model string) *modelEntry {
	s.mu.RLock()
	e, ok := s.models[model]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.models[model]; ok {
		return e
	}
	e = &modelEntry{}
	s.models[model] = e
	return e
}
