package reporting

import (
	"time"

	"security-risk-lab/internal/domain"
)

// Report summarizes one pipeline run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Source      string
	StreamMode  string

	// Totals
	Summary RunSummary

	// Tier distribution, ordered CRITICAL..LOW
	Tiers []TierRow

	// Failed batches, ordered by batch index
	BatchFailures []BatchFailureRow

	// Per-model metrics at report time, sorted by model
	ModelMetrics []ModelMetricRow

	// Highest-scoring assessments, descending
	TopAssessments []AssessmentRow
}

// RunSummary counts events and batches.
type RunSummary struct {
	Batches        int
	FailedBatches  int
	Events         int
	Assessed       int
	ScoringErrors  int
	MeanScore      float64
	MaxScore       float64
	FirstStartedAt time.Time
	LastDoneAt     time.Time
}

// TierRow is one line of the tier distribution table.
type TierRow struct {
	Tier  domain.RiskTier
	Count int
	Share float64 // Count / assessed, 0 when nothing was assessed
}

// BatchFailureRow describes a batch that failed as a whole.
type BatchFailureRow struct {
	Index  int
	Events int
	Error  string
}

// ModelMetricRow holds one model's metrics.
type ModelMetricRow struct {
	Model   string
	Metrics domain.MetricsSnapshot
}

// AssessmentRow is one flattened assessment.
type AssessmentRow struct {
	AssessmentID   string
	EventID        string
	EventType      string
	SourceIP       string
	Timestamp      string
	Tier           domain.RiskTier
	Combined       float64
	Threat         float64
	Anomaly        float64
	Confidence     float64
	Recommendation string // first recommendation
}
