// Package fusion combines independent model scores into one risk assessment.
package fusion

import (
	"time"

	"github.com/google/uuid"

	"security-risk-lab/internal/domain"
)

// DefaultConfidence stands in for a confidence the model did not report.
const DefaultConfidence = 0.5

// Fuser applies the weighted fusion policy.
type Fuser struct {
	cfg Config
	now func() time.Time
}

// NewFuser validates cfg and returns a Fuser.
func NewFuser(cfg Config) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fuser{cfg: cfg, now: time.Now}, nil
}

// Config returns the weights in use.
func (f *Fuser) Config() Config {
	return f.cfg
}

// Fuse combines a threat and an anomaly score.
// combined = threat*w_t + anomaly*w_a; confidence = mean of confidences.
func (f *Fuser) Fuse(threat, anomaly domain.ModelScore) (*domain.RiskAssessment, error) {
	if err := threat.Validate(domain.ComponentThreat); err != nil {
		return nil, err
	}
	if err := anomaly.Validate(domain.ComponentAnomaly); err != nil {
		return nil, err
	}

	combined := threat.Score*f.cfg.ThreatWeight + anomaly.Score*f.cfg.AnomalyWeight
	combined = clampUnit(combined)

	confidence := (threat.ConfidenceOr(DefaultConfidence) + anomaly.ConfidenceOr(DefaultConfidence)) / 2

	tier, recs := classify(combined)

	return &domain.RiskAssessment{
		ID:                uuid.NewString(),
		CombinedRiskScore: combined,
		ComponentScores: map[string]domain.ModelScore{
			domain.ComponentThreat:  threat.Clone(),
			domain.ComponentAnomaly: anomaly.Clone(),
		},
		Confidence:      confidence,
		RiskTier:        tier,
		Recommendations: recs,
		CreatedAt:       f.now().UTC(),
	}, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
