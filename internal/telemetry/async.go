package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/observability"
	"security-risk-lab/internal/storage"
)

// Record kinds, also used as metric labels.
const (
	KindPrediction = "prediction"
	KindMetrics    = "metrics"
	KindAssessment = "assessment"
)

// SpanName is the span emitted for every logged prediction.
const SpanName = "ml_prediction"

const (
	defaultQueueSize     = 1024
	defaultFlushSize     = 256
	defaultFlushInterval = time.Second
	writeTimeout         = 10 * time.Second
)

// AsyncOptions configures an AsyncSink. Nil stores skip that record kind.
type AsyncOptions struct {
	Predictions storage.PredictionStore
	Assessments storage.AssessmentStore
	Snapshots   storage.MetricsSnapshotStore

	QueueSize     int           // Default: 1024
	FlushSize     int           // Default: 256 predictions per InsertBulk
	FlushInterval time.Duration // Default: 1s

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer // Default: otel.Tracer("security-risk-lab/telemetry")
}

type entry struct {
	kind       string
	prediction *domain.PredictionRecord
	model      string
	snapshot   domain.MetricsSnapshot
	assessment *domain.RiskAssessment
}

// AsyncSink queues telemetry on a bounded channel and writes it from one
// background goroutine. A full queue drops the record and counts it.
// Write failures are logged and swallowed.
type AsyncSink struct {
	predictions storage.PredictionStore
	assessments storage.AssessmentStore
	snapshots   storage.MetricsSnapshotStore

	queue         chan entry
	flushSize     int
	flushInterval time.Duration

	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncSink creates the sink and starts its writer.
func NewAsyncSink(opts AsyncOptions) *AsyncSink {
	s := newAsyncSink(opts)
	go s.run()
	return s
}

func newAsyncSink(opts AsyncOptions) *AsyncSink {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	flushSize := opts.FlushSize
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("security-risk-lab/telemetry")
	}

	return &AsyncSink{
		predictions:   opts.Predictions,
		assessments:   opts.Assessments,
		snapshots:     opts.Snapshots,
		queue:         make(chan entry, queueSize),
		flushSize:     flushSize,
		flushInterval: flushInterval,
		logger:        logger.Named("telemetry"),
		metrics:       opts.Metrics,
		tracer:        tracer,
		done:          make(chan struct{}),
	}
}

// LogPrediction implements Sink. The span is emitted synchronously; the
// write is queued.
func (s *AsyncSink) LogPrediction(ctx context.Context, rec domain.PredictionRecord) {
	_, span := s.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("model.name", rec.ModelName),
		attribute.Float64("prediction.confidence", rec.Confidence),
		attribute.Float64("prediction.score", rec.Score),
		attribute.String("prediction.input_ref", rec.InputRef),
	))
	span.End()

	s.enqueue(entry{kind: KindPrediction, prediction: &rec})
}

// LogMetrics implements Sink.
func (s *AsyncSink) LogMetrics(_ context.Context, model string, snapshot domain.MetricsSnapshot) {
	s.enqueue(entry{kind: KindMetrics, model: model, snapshot: snapshot.Clone()})
}

// LogAssessment implements Sink.
func (s *AsyncSink) LogAssessment(_ context.Context, a *domain.RiskAssessment) {
	if a == nil {
		return
	}
	s.enqueue(entry{kind: KindAssessment, assessment: a})
}

// Dropped returns the number of records dropped because the queue was full
// or the sink was closed.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Failed returns the number of records whose write failed.
func (s *AsyncSink) Failed() int64 { return s.failed.Load() }

// Close stops accepting records and waits until queued records are written
// or ctx expires.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) enqueue(e entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(e.kind)
		return
	}
	select {
	case s.queue <- e:
		if s.metrics != nil {
			s.metrics.SinkQueueDepth.Set(float64(len(s.queue)))
		}
	default:
		s.drop(e.kind)
	}
}

func (s *AsyncSink) drop(kind string) {
	n := s.dropped.Add(1)
	if s.metrics != nil {
		s.metrics.SinkDropped.WithLabelValues(kind).Inc()
	}
	// log the first drop and then every thousandth
	if n == 1 || n%1000 == 0 {
		s.logger.Warn("telemetry queue full, dropping record",
			zap.String("kind", kind),
			zap.Int64("dropped_total", n),
		)
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]*domain.PredictionRecord, 0, s.flushSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.writePredictions(pending)
		pending = make([]*domain.PredictionRecord, 0, s.flushSize)
	}

	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			if s.metrics != nil {
				s.metrics.SinkQueueDepth.Set(float64(len(s.queue)))
			}
			switch e.kind {
			case KindPrediction:
				pending = append(pending, e.prediction)
				if len(pending) >= s.flushSize {
					flush()
				}
			case KindMetrics:
				s.writeMetrics(e.model, e.snapshot)
			case KindAssessment:
				s.writeAssessment(e.assessment)
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *AsyncSink) writePredictions(recs []*domain.PredictionRecord) {
	if s.predictions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.predictions.InsertBulk(ctx, recs); err != nil {
		s.fail(KindPrediction, len(recs), err)
	}
}

func (s *AsyncSink) writeMetrics(model string, snapshot domain.MetricsSnapshot) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, model, snapshot); err != nil {
		s.fail(KindMetrics, 1, err, zap.String("model", model))
	}
}

func (s *AsyncSink) writeAssessment(a *domain.RiskAssessment) {
	if s.assessments == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.assessments.Insert(ctx, a); err != nil {
		s.fail(KindAssessment, 1, err, zap.String("assessment_id", a.ID))
	}
}

func (s *AsyncSink) fail(kind string, n int, err error, fields ...zap.Field) {
	s.failed.Add(int64(n))
	if s.metrics != nil {
		s.metrics.SinkFailures.WithLabelValues(kind).Add(float64(n))
	}
	fields = append(fields,
		zap.String("kind", kind),
		zap.Int("records", n),
		zap.Error(err),
	)
	s.logger.Error("telemetry write failed", fields...)
}

var _ Sink = (*AsyncSink)(nil)
