package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

func newAssessment(id, eventID string, at time.Time) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		ID:                id,
		EventID:           eventID,
		CombinedRiskScore: 0.42,
		ComponentScores: map[string]domain.ModelScore{
			domain.ComponentThreat:  domain.NewModelScore(0.5, 0.5),
			domain.ComponentAnomaly: domain.NewModelScore(0.3, 0.7),
		},
		Confidence:      0.6,
		RiskTier:        domain.TierMedium,
		Recommendations: []string{"Enhanced monitoring required"},
		CreatedAt:       at,
	}
}

func TestAssessmentStore_InsertAndGet(t *testing.T) {
	store := NewAssessmentStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, newAssessment("a1", "ev1", now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.RiskTier != domain.TierMedium {
		t.Errorf("RiskTier mismatch: got %s", got.RiskTier)
	}
	if *got.ComponentScores[domain.ComponentAnomaly].Confidence != 0.7 {
		t.Errorf("anomaly confidence mismatch")
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAssessmentStore_DuplicateAndInvalid(t *testing.T) {
	store := NewAssessmentStore()
	ctx := context.Background()
	a := newAssessment("a1", "ev1", time.Now())

	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := store.Insert(ctx, a); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Insert(ctx, &domain.RiskAssessment{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAssessmentStore_ReturnsCopies(t *testing.T) {
	store := NewAssessmentStore()
	ctx := context.Background()
	a := newAssessment("a1", "ev1", time.Now())
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	a.Recommendations[0] = "mutated"
	got, _ := store.GetByID(ctx, "a1")
	if got.Recommendations[0] != "Enhanced monitoring required" {
		t.Errorf("store shares slice with caller")
	}

	got.ComponentScores[domain.ComponentThreat] = domain.NewModelScore(1, 1)
	again, _ := store.GetByID(ctx, "a1")
	if again.ComponentScores[domain.ComponentThreat].Score != 0.5 {
		t.Errorf("store shares map with reader")
	}
}

func TestAssessmentStore_QueriesOrdered(t *testing.T) {
	store := NewAssessmentStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		if err := store.Insert(ctx, newAssessment(id, "ev1", base.Add(time.Duration(2-i)*time.Minute))); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := store.Insert(ctx, newAssessment("z", "ev2", base)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	byEvent, _ := store.GetByEventID(ctx, "ev1")
	if len(byEvent) != 3 {
		t.Fatalf("expected 3 assessments, got %d", len(byEvent))
	}
	want := []string{"b", "a", "c"}
	for i, a := range byEvent {
		if a.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, a.ID, want[i])
		}
	}

	inRange, _ := store.GetByTimeRange(ctx, base, base.Add(time.Minute))
	if len(inRange) != 3 {
		t.Fatalf("expected 3 assessments in range, got %d", len(inRange))
	}
	if inRange[0].ID != "b" || inRange[1].ID != "z" || inRange[2].ID != "a" {
		t.Errorf("unexpected order: %s %s %s", inRange[0].ID, inRange[1].ID, inRange[2].ID)
	}
}
