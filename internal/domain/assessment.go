package domain

import (
	"math"
	"time"
)

// FeatureVector is one fixed-width row produced by the feature codec.
// Column order: numerical, categorical, temporal, behavioral.
type FeatureVector []float64

// ModelScore is the result every scoring collaborator returns.
type ModelScore struct {
	Score      float64  `json:"score"`                // in [0,1]
	Confidence *float64 `json:"confidence,omitempty"` // in [0,1], nil if the model reports none
	Label      string   `json:"label,omitempty"`
}

// NewModelScore builds a score with a reported confidence.
func NewModelScore(score, confidence float64) ModelScore {
	return ModelScore{Score: score, Confidence: &confidence}
}

// Clone returns a copy that does not share the Confidence pointer.
func (s ModelScore) Clone() ModelScore {
	if s.Confidence != nil {
		c := *s.Confidence
		s.Confidence = &c
	}
	return s
}

// ConfidenceOr returns the reported confidence or def when missing.
func (s ModelScore) ConfidenceOr(def float64) float64 {
	if s.Confidence == nil {
		return def
	}
	return *s.Confidence
}

// Validate checks that score and confidence lie in [0,1].
func (s ModelScore) Validate(model string) error {
	if !inUnitInterval(s.Score) {
		return NewScoringError(model, nil, "score %v outside [0,1]", s.Score)
	}
	if s.Confidence != nil && !inUnitInterval(*s.Confidence) {
		return NewScoringError(model, nil, "confidence %v outside [0,1]", *s.Confidence)
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// RiskTier is the recommendation tier of a combined assessment.
type RiskTier string

const (
	TierCritical RiskTier = "CRITICAL"
	TierHigh     RiskTier = "HIGH"
	TierMedium   RiskTier = "MEDIUM"
	TierLow      RiskTier = "LOW"
)

// Component score keys in RiskAssessment.ComponentScores.
const (
	ComponentThreat  = "threat"
	ComponentAnomaly = "anomaly"
)

// RiskAssessment is the fused decision for one event. Immutable once built.
type RiskAssessment struct {
	ID                string                     `json:"id"`
	EventID           string                     `json:"event_id,omitempty"`
	CombinedRiskScore float64                    `json:"combined_risk_score"`
	ComponentScores   map[string]ModelScore      `json:"component_scores"`
	Confidence        float64                    `json:"confidence"`
	RiskTier          RiskTier                   `json:"risk_tier"`
	Recommendations   []string                   `json:"recommendations"`
	ModelMetrics      map[string]MetricsSnapshot `json:"model_metrics,omitempty"`
	CreatedAt         time.Time                  `json:"created_at"`
}

// MetricsSnapshot maps metric name to value for one model.
type MetricsSnapshot map[string]float64

// Clone returns an independent copy. A nil snapshot clones to an empty one.
func (m MetricsSnapshot) Clone() MetricsSnapshot {
	out := make(MetricsSnapshot, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PredictionRecord is one telemetry row written for a model prediction.
type PredictionRecord struct {
	ID         string    // uuid
	ModelName  string    // threat, anomaly, combined, ...
	InputRef   string    // event id of the scored input
	Score      float64   // prediction
	Confidence float64   // model confidence
	Label      string    // optional label
	CreatedAt  time.Time // UTC
}

// BatchResult is one completed batch from stream processing.
// Assessments and EventErrors are aligned with Events.
type BatchResult struct {
	Index        int               // submission sequence number, 0-based
	Events       []RawEvent        // batch members in arrival order
	Features     []FeatureVector   // nil when Err is set
	FeatureNames []string          // column names of Features
	Assessments  []*RiskAssessment // nil entries where scoring failed
	EventErrors  []error           // per-event failures, nil entries on success
	Err          error             // batch-level failure
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Failed reports how many events in the batch did not produce an assessment.
func (b *BatchResult) Failed() int {
	if b.Err != nil {
		return len(b.Events)
	}
	n := 0
	for _, err := range b.EventErrors {
		if err != nil {
			n++
		}
	}
	return n
}
