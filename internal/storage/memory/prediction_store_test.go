package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

func TestPredictionStore_InsertBulkAndQuery(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	records := []*domain.PredictionRecord{
		{ID: "p2", ModelName: "threat", InputRef: "ev1", Score: 0.8, Confidence: 0.6, CreatedAt: base.Add(time.Second)},
		{ID: "p1", ModelName: "threat", InputRef: "ev1", Score: 0.4, Confidence: 0.2, CreatedAt: base},
		{ID: "p3", ModelName: "anomaly", InputRef: "ev1", Score: 0.1, Confidence: 0.8, CreatedAt: base},
		{ID: "p4", ModelName: "threat", InputRef: "ev2", Score: 0.9, Confidence: 0.8, CreatedAt: base.Add(time.Hour)},
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByModel(ctx, "threat", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetByModel failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestPredictionStore_InsertBulkAtomic(t *testing.T) {
	store := NewPredictionStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.InsertBulk(ctx, []*domain.PredictionRecord{{ID: "p1", ModelName: "threat", CreatedAt: now}}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.PredictionRecord{
		{ID: "p2", ModelName: "threat", CreatedAt: now},
		{ID: "p1", ModelName: "threat", CreatedAt: now},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByModel(ctx, "threat", now.Add(-time.Hour), now.Add(time.Hour))
	if len(got) != 1 {
		t.Errorf("failed batch must not be partially applied, got %d records", len(got))
	}

	err = store.InsertBulk(ctx, []*domain.PredictionRecord{{ID: "p9"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
