// Package telemetry records predictions, model metrics and assessments
// without blocking the analysis path.
package telemetry

import (
	"context"

	"security-risk-lab/internal/domain"
)

// Sink receives telemetry. Implementations must not block the caller and
// must not report failures back to it.
type Sink interface {
	LogPrediction(ctx context.Context, rec domain.PredictionRecord)
	LogMetrics(ctx context.Context, model string, snapshot domain.MetricsSnapshot)
	LogAssessment(ctx context.Context, a *domain.RiskAssessment)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) LogPrediction(context.Context, domain.PredictionRecord)     {}
func (NopSink) LogMetrics(context.Context, string, domain.MetricsSnapshot) {}
func (NopSink) LogAssessment(context.Context, *domain.RiskAssessment)      {}

var _ Sink = NopSink{}
