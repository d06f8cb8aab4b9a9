// Package analysis wires feature extraction, model scoring and score fusion
// into the two entry points of the pipeline: single-event Analyze and
// batched ProcessStream.
package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/features"
	"security-risk-lab/internal/fusion"
	"security-risk-lab/internal/metrics"
	"security-risk-lab/internal/models"
	"security-risk-lab/internal/notify"
	"security-risk-lab/internal/observability"
	"security-risk-lab/internal/stream"
	"security-risk-lab/internal/telemetry"
)

// StreamMode selects how ProcessStream derives features for a batch.
type StreamMode int

const (
	// RefitPerBatch fits a batch-local codec on every batch, so scaling and
	// vocabularies reflect that batch only. Feature width may differ
	// between batches.
	RefitPerBatch StreamMode = iota
	// SharedCodec transforms every batch with the service's fitted codec.
	// Widths are stable; batches fail with a config error until Fit is called.
	SharedCodec
)

// String returns the config spelling of the mode.
func (m StreamMode) String() string {
	if m == SharedCodec {
		return "shared"
	}
	return "refit"
}

// CombinedModel is the model name under which fused scores are logged.
const CombinedModel = "combined"

// Service scores security events end to end.
type Service struct {
	codec     *features.Codec
	threat    models.Scorer
	anomaly   models.Scorer
	embedder  models.Embedder
	fuser     *fusion.Fuser
	store     *metrics.Store
	sink      telemetry.Sink
	publisher notify.Publisher
	batcher   *stream.Batcher
	mode      StreamMode

	logger *zap.Logger
	prom   *observability.Metrics
	now    func() time.Time
}

// Options for creating a Service.
type Options struct {
	// Required
	Codec   *features.Codec // shared codec used by Analyze and SharedCodec streams
	Threat  models.Scorer
	Anomaly models.Scorer
	Fuser   *fusion.Fuser

	// Optional collaborators
	Embedder     models.Embedder  // nil skips description embeddings
	MetricsStore *metrics.Store   // Default: empty store
	Sink         telemetry.Sink   // Default: telemetry.NopSink
	Publisher    notify.Publisher // Default: notify.NopPublisher

	// Streaming
	BatchSize  int        // Default: stream.DefaultBatchSize
	Workers    int        // Default: stream.DefaultWorkers
	StreamMode StreamMode // Default: RefitPerBatch

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// New creates a Service. Missing required collaborators are a config error.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Codec == nil:
		return nil, domain.NewConfigError("analysis", "feature codec is required")
	case opts.Threat == nil:
		return nil, domain.NewConfigError("analysis", "threat scorer is required")
	case opts.Anomaly == nil:
		return nil, domain.NewConfigError("analysis", "anomaly scorer is required")
	case opts.Fuser == nil:
		return nil, domain.NewConfigError("analysis", "score fuser is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.MetricsStore
	if store == nil {
		store = metrics.NewStore()
	}
	var sink telemetry.Sink = telemetry.NopSink{}
	if opts.Sink != nil {
		sink = opts.Sink
	}
	var publisher notify.Publisher = notify.NopPublisher{}
	if opts.Publisher != nil {
		publisher = opts.Publisher
	}

	s := &Service{
		codec:     opts.Codec,
		threat:    opts.Threat,
		anomaly:   opts.Anomaly,
		embedder:  opts.Embedder,
		fuser:     opts.Fuser,
		store:     store,
		sink:      sink,
		publisher: publisher,
		mode:      opts.StreamMode,
		logger:    logger.Named("analysis"),
		prom:      opts.Metrics,
		now:       time.Now,
	}
	s.batcher = stream.NewBatcher(s.processBatch,
		stream.WithBatchSize(opts.BatchSize),
		stream.WithWorkers(opts.Workers),
		stream.WithLogger(logger),
		stream.WithMetrics(opts.Metrics),
	)
	return s, nil
}

// Codec returns the shared codec.
func (s *Service) Codec() *features.Codec { return s.codec }

// Fitted reports whether Analyze can transform events yet.
func (s *Service) Fitted() bool { return s.codec.Fitted() }

// Fit estimates the shared codec's state from a baseline. Analyze and
// SharedCodec streams transform with this state afterwards.
func (s *Service) Fit(ctx context.Context, baseline []domain.RawEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateBatch(baseline); err != nil {
		return err
	}
	if err := s.codec.Fit(baseline); err != nil {
		return err
	}
	s.logger.Info("codec fitted",
		zap.Int("events", len(baseline)),
		zap.Int("width", s.codec.Width()),
	)
	if s.prom != nil {
		s.prom.FeatureWidth.Set(float64(s.codec.Width()))
	}
	return nil
}

// Analyze validates one event, transforms it with the fitted shared codec,
// scores it with both models concurrently and fuses the result.
func (s *Service) Analyze(ctx context.Context, ev domain.RawEvent) (*domain.RiskAssessment, error) {
	if err := domain.ValidateEvent(&ev); err != nil {
		s.reject(err)
		return nil, err
	}

	vecs, err := s.codec.Transform([]domain.RawEvent{ev})
	if err != nil {
		s.reject(err)
		return nil, err
	}

	return s.assess(ctx, &ev, vecs[0])
}

// ProcessStream scores events in batches on a bounded worker pool. Results
// arrive in completion order; callers must drain the channel until it closes.
// A batch with an invalid event fails as a whole; scoring failures are
// recorded per event.
func (s *Service) ProcessStream(ctx context.Context, events <-chan domain.RawEvent) <-chan domain.BatchResult {
	return s.batcher.Run(ctx, events)
}

// ProcessBatch scores a finite slice and returns results ordered by batch.
func (s *Service) ProcessBatch(ctx context.Context, events []domain.RawEvent) []domain.BatchResult {
	return s.batcher.RunSlice(ctx, events)
}

func (s *Service) processBatch(ctx context.Context, events []domain.RawEvent) (*domain.BatchResult, error) {
	if err := domain.ValidateBatch(events); err != nil {
		s.reject(err)
		return nil, err
	}

	vecs, names, err := s.batchFeatures(events)
	if err != nil {
		return nil, err
	}
	if s.prom != nil && len(vecs) > 0 {
		s.prom.FeatureWidth.Set(float64(len(vecs[0])))
	}

	res := &domain.BatchResult{
		Features:     vecs,
		FeatureNames: names,
		Assessments:  make([]*domain.RiskAssessment, len(events)),
		EventErrors:  make([]error, len(events)),
	}
	for i := range events {
		if err := ctx.Err(); err != nil {
			res.EventErrors[i] = err
			continue
		}
		a, err := s.assess(ctx, &events[i], vecs[i])
		if err != nil {
			res.EventErrors[i] = err
			continue
		}
		res.Assessments[i] = a
	}
	return res, nil
}

func (s *Service) batchFeatures(events []domain.RawEvent) ([]domain.FeatureVector, []string, error) {
	if s.mode == SharedCodec {
		vecs, err := s.codec.Transform(events)
		if err != nil {
			return nil, nil, err
		}
		return vecs, s.codec.FeatureNames(), nil
	}

	local, err := features.NewCodec(s.codec.Config())
	if err != nil {
		return nil, nil, err
	}
	vecs, err := local.FitTransform(events)
	if err != nil {
		return nil, nil, err
	}
	return vecs, local.FeatureNames(), nil
}

func (s *Service) reject(err error) {
	if s.prom != nil {
		s.prom.EventsRejected.WithLabelValues(string(domain.KindOf(err))).Inc()
	}
}
