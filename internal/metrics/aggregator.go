package metrics

import (
	"context"
	"errors"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/storage"
)

// Operational metric names derived from prediction telemetry.
const (
	Predictions    = "predictions"
	MeanScore      = "mean_score"
	MeanConfidence = "mean_confidence"
	HighRiskRate   = "high_risk_rate"
)

// highRiskScore is the single-model score above which a prediction counts
// toward HighRiskRate.
const highRiskScore = 0.7

// ErrNoPredictions is returned when no predictions are available for aggregation.
var ErrNoPredictions = errors.New("no predictions available for aggregation")

// Aggregator summarizes logged predictions into per-model metrics.
type Aggregator struct {
	predictions storage.PredictionStore
	snapshots   storage.MetricsSnapshotStore // optional
	store       *Store
}

// NewAggregator creates an aggregator that reads predictions and merges
// the summary into store. snapshots may be nil.
func NewAggregator(predictions storage.PredictionStore, snapshots storage.MetricsSnapshotStore, store *Store) *Aggregator {
	return &Aggregator{
		predictions: predictions,
		snapshots:   snapshots,
		store:       store,
	}
}

// Summarize computes operational metrics for model over [start, end],
// merges them into the store and persists the resulting snapshot.
// Returns ErrNoPredictions if the window is empty.
func (a *Aggregator) Summarize(ctx context.Context, model string, start, end time.Time) (domain.MetricsSnapshot, error) {
	records, err := a.predictions.GetByModel(ctx, model, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoPredictions
	}

	summary := summarizePredictions(records)
	if err := a.store.Update(model, summary); err != nil {
		return nil, err
	}

	merged := a.store.Snapshot(model)
	if a.snapshots != nil {
		if err := a.snapshots.Save(ctx, model, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Restore loads persisted snapshots into the store.
func (a *Aggregator) Restore(ctx context.Context) (int, error) {
	if a.snapshots == nil {
		return 0, nil
	}
	all, err := a.snapshots.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	for model, snap := range all {
		if err := a.store.Update(model, snap); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func summarizePredictions(records []*domain.PredictionRecord) domain.MetricsSnapshot {
	var scoreSum, confSum float64
	high := 0
	for _, r := range records {
		scoreSum += r.Score
		confSum += r.Confidence
		if r.Score > highRiskScore {
			high++
		}
	}
	n := float64(len(records))
	return domain.MetricsSnapshot{
		Predictions:    n,
		MeanScore:      scoreSum / n,
		MeanConfidence: confSum / n,
		HighRiskRate:   float64(high) / n,
	}
}
