package models

import (
	"context"
	"math"

	"security-risk-lab/internal/domain"
)

// AnomalyScorer scores how far a standardized feature vector lies from the
// fitted population: score = 1 - exp(-mean|z|).
type AnomalyScorer struct {
	name string
}

// NewAnomalyScorer creates the reference anomaly detector.
func NewAnomalyScorer() *AnomalyScorer {
	return &AnomalyScorer{name: NameAnomaly}
}

// Name implements Scorer.
func (s *AnomalyScorer) Name() string { return s.name }

// Score implements Scorer.
func (s *AnomalyScorer) Score(ctx context.Context, in Input) (domain.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelScore{}, domain.NewScoringError(s.name, err, "scoring cancelled")
	}
	if len(in.Features) == 0 {
		return domain.ModelScore{}, domain.NewScoringError(s.name, nil, "empty feature vector")
	}

	var sum float64
	for _, z := range in.Features {
		if math.IsNaN(z) || math.IsInf(z, 0) {
			return domain.ModelScore{}, domain.NewScoringError(s.name, nil, "non-finite feature value %v", z)
		}
		sum += math.Abs(z)
	}
	score := clampUnit(1 - math.Exp(-sum/float64(len(in.Features))))

	out := domain.NewModelScore(score, Certainty(score))
	out.Label = string(RiskLevelFor(score))
	return out, nil
}
