package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/fusion"
	"security-risk-lab/internal/idhash"
	"security-risk-lab/internal/metrics"
	"security-risk-lab/internal/models"
	"security-risk-lab/internal/notify"
)

// assess scores one transformed event and fuses the result. Both scorers
// must succeed; there is no single-model fallback.
func (s *Service) assess(ctx context.Context, ev *domain.RawEvent, vec domain.FeatureVector) (*domain.RiskAssessment, error) {
	eventID, err := idhash.ComputeEventID(ev)
	if err != nil {
		return nil, domain.NewValidationError("event", "cannot derive event id: %v", err)
	}

	in := models.Input{Event: ev, Features: vec}
	if s.embedder != nil && ev.Description != "" {
		emb, err := s.embedder.Embed(ctx, ev.Description)
		if err != nil {
			return nil, domain.NewScoringError("embedder", err, "embed description")
		}
		in.Embedding = emb
	}

	var threat, anomaly domain.ModelScore
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		threat, err = s.callScorer(gctx, s.threat, in)
		return err
	})
	g.Go(func() error {
		var err error
		anomaly, err = s.callScorer(gctx, s.anomaly, in)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("scoring failed",
			zap.String("event_ref", idhash.ShortRef(eventID)),
			zap.Error(err),
		)
		return nil, err
	}

	a, err := s.fuser.Fuse(threat, anomaly)
	if err != nil {
		return nil, err
	}
	a.EventID = eventID
	a.ModelMetrics = s.componentMetrics()

	s.record(ctx, a)
	return a, nil
}

// callScorer invokes one scorer, times it and normalizes its error.
func (s *Service) callScorer(ctx context.Context, scorer models.Scorer, in models.Input) (domain.ModelScore, error) {
	start := s.now()
	score, err := scorer.Score(ctx, in)
	if err == nil {
		err = score.Validate(scorer.Name())
	}
	if s.prom != nil {
		s.prom.RecordScoring(scorer.Name(), time.Since(start).Seconds(), err)
	}
	if err != nil {
		if domain.KindOf(err) != domain.KindScoring {
			err = domain.NewScoringError(scorer.Name(), err, "scorer failed")
		}
		return domain.ModelScore{}, err
	}
	return score, nil
}

// componentMetrics snapshots the stored metrics of both scorers. Models
// without metrics are omitted; nil when neither has any.
func (s *Service) componentMetrics() map[string]domain.MetricsSnapshot {
	var out map[string]domain.MetricsSnapshot
	for _, name := range []string{s.threat.Name(), s.anomaly.Name()} {
		snap := s.store.Snapshot(name)
		if len(snap) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]domain.MetricsSnapshot, 2)
		}
		out[name] = snap
	}
	return out
}

// record sends telemetry and alerts for a finished assessment. Nothing here
// can fail the assessment.
func (s *Service) record(ctx context.Context, a *domain.RiskAssessment) {
	for _, c := range []struct {
		model string
		score domain.ModelScore
	}{
		{s.threat.Name(), a.ComponentScores[domain.ComponentThreat]},
		{s.anomaly.Name(), a.ComponentScores[domain.ComponentAnomaly]},
	} {
		s.sink.LogPrediction(ctx, domain.PredictionRecord{
			ID:         uuid.NewString(),
			ModelName:  c.model,
			InputRef:   a.EventID,
			Score:      c.score.Score,
			Confidence: c.score.ConfidenceOr(fusion.DefaultConfidence),
			Label:      c.score.Label,
			CreatedAt:  a.CreatedAt,
		})
	}
	s.sink.LogPrediction(ctx, domain.PredictionRecord{
		ID:         uuid.NewString(),
		ModelName:  CombinedModel,
		InputRef:   a.EventID,
		Score:      a.CombinedRiskScore,
		Confidence: a.Confidence,
		Label:      string(a.RiskTier),
		CreatedAt:  a.CreatedAt,
	})
	s.sink.LogAssessment(ctx, a)

	if s.prom != nil {
		s.prom.RecordAssessment(string(a.RiskTier), a.CombinedRiskScore)
	}

	if err := s.publisher.Publish(ctx, a); err != nil {
		if s.prom != nil {
			s.prom.AlertsPublished.WithLabelValues("failed").Inc()
		}
		s.logger.Warn("alert publish failed",
			zap.String("assessment_id", a.ID),
			zap.String("tier", string(a.RiskTier)),
			zap.Error(err),
		)
	} else if s.prom != nil && notify.ShouldAlert(a) {
		s.prom.AlertsPublished.WithLabelValues("ok").Inc()
	}
}

// UpdateModelMetrics merges m into the model's metrics and persists the
// merged snapshot through the sink.
func (s *Service) UpdateModelMetrics(ctx context.Context, model string, m domain.MetricsSnapshot) error {
	if err := s.store.Update(model, m); err != nil {
		return err
	}
	merged := s.store.Snapshot(model)
	s.sink.LogMetrics(ctx, model, merged)
	if s.prom != nil {
		s.prom.RecordModelMetrics(model, m)
	}
	s.logger.Info("model metrics updated",
		zap.String("model", model),
		zap.Int("metrics", len(merged)),
	)
	return nil
}

// EvaluateModel computes classification metrics from binary labels and
// predictions and merges them into the model's metrics.
func (s *Service) EvaluateModel(ctx context.Context, model string, labels, predictions []int) (domain.MetricsSnapshot, error) {
	computed, err := metrics.ComputeClassification(labels, predictions)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", model, err)
	}
	if err := s.UpdateModelMetrics(ctx, model, computed); err != nil {
		return nil, err
	}
	return s.store.Snapshot(model), nil
}

// ModelMetrics returns a copy of the model's metrics; empty when unknown.
func (s *Service) ModelMetrics(model string) domain.MetricsSnapshot {
	return s.store.Snapshot(model)
}

// Models returns the names of models that have metrics.
func (s *Service) Models() []string {
	return s.store.Models()
}
