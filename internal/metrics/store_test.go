package metrics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"security-risk-lab/internal/domain"
)

func TestStore_UpdateMergesKeys(t *testing.T) {
	s := NewStore()

	if err := s.Update("threat", domain.MetricsSnapshot{Accuracy: 0.9, Precision: 0.8}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Update("threat", domain.MetricsSnapshot{Accuracy: 0.95, Recall: 0.7}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Update("anomaly", domain.MetricsSnapshot{FalsePositiveRate: 0.1}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got := s.Snapshot("threat")
	want := domain.MetricsSnapshot{Accuracy: 0.95, Precision: 0.8, Recall: 0.7}
	if len(got) != len(want) {
		t.Fatalf("snapshot size: got %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %f, want %f", k, got[k], v)
		}
	}

	if a := s.Snapshot("anomaly"); len(a) != 1 || a[FalsePositiveRate] != 0.1 {
		t.Errorf("unrelated model changed: %v", a)
	}
}

func TestStore_SnapshotIsDefensiveCopy(t *testing.T) {
	s := NewStore()
	input := domain.MetricsSnapshot{Accuracy: 0.9}
	_ = s.Update("threat", input)

	input[Accuracy] = 0.1
	snap := s.Snapshot("threat")
	snap[Accuracy] = 0.2

	if got := s.Snapshot("threat")[Accuracy]; got != 0.9 {
		t.Errorf("store state leaked: got %f", got)
	}
}

func TestStore_UnknownModelAndReset(t *testing.T) {
	s := NewStore()
	if snap := s.Snapshot("nope"); snap == nil || len(snap) != 0 {
		t.Errorf("unknown model must yield empty non-nil snapshot, got %v", snap)
	}

	_ = s.Update("a", domain.MetricsSnapshot{Accuracy: 1})
	_ = s.Update("b", domain.MetricsSnapshot{Accuracy: 1})
	if models := s.Models(); len(models) != 2 || models[0] != "a" || models[1] != "b" {
		t.Errorf("Models: got %v", models)
	}

	s.Reset("a")
	if len(s.Snapshot("a")) != 0 {
		t.Errorf("Reset did not clear model a")
	}
	if len(s.Snapshot("b")) != 1 {
		t.Errorf("Reset cleared unrelated model b")
	}

	s.ResetAll()
	if len(s.Models()) != 0 {
		t.Errorf("ResetAll left models: %v", s.Models())
	}
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	s := NewStore()
	if err := s.Update("", domain.MetricsSnapshot{Accuracy: 1}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for empty model, got %v", err)
	}
	if err := s.Update("m", domain.MetricsSnapshot{Accuracy: math.NaN()}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for NaN, got %v", err)
	}
	if len(s.Snapshot("m")) != 0 {
		t.Errorf("rejected update must not be applied")
	}
}

func TestStore_ConcurrentUpdatesDoNotLoseKeys(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("metric_%02d", i)
			if err := s.Update("threat", domain.MetricsSnapshot{key: float64(i)}); err != nil {
				t.Errorf("Update failed: %v", err)
			}
			_ = s.Snapshot("threat")
		}(i)
	}
	wg.Wait()

	if got := len(s.Snapshot("threat")); got != 50 {
		t.Errorf("expected 50 merged keys, got %d", got)
	}
}

func TestStore_UpdateRacingResetIsNotLost(t *testing.T) {
	for _, reset := range []struct {
		name string
		fn   func(*Store)
	}{
		{"Reset", func(s *Store) { s.Reset("threat") }},
		{"ResetAll", func(s *Store) { s.ResetAll() }},
	} {
		t.Run(reset.name, func(t *testing.T) {
			s := NewStore()
			if err := s.Update("threat", domain.MetricsSnapshot{Accuracy: 0.5}); err != nil {
				t.Fatal(err)
			}

			// reset lands after Update found the entry but before it locked it
			fired := false
			s.beforeLock = func() {
				if !fired {
					fired = true
					reset.fn(s)
				}
			}
			if err := s.Update("threat", domain.MetricsSnapshot{Recall: 0.7}); err != nil {
				t.Fatal(err)
			}

			snap := s.Snapshot("threat")
			if len(snap) != 1 || snap[Recall] != 0.7 {
				t.Errorf("got %v, want only recall=0.7", snap)
			}
			if models := s.Models(); len(models) != 1 || models[0] != "threat" {
				t.Errorf("Models: got %v", models)
			}
		})
	}
}
