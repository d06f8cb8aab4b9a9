// Package observability provides Prometheus metrics and tracing setup.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsIngested  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	IngestionErrors *prometheus.CounterVec

	// Stream metrics
	BatchesProcessed *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	BatchDuration    prometheus.Histogram
	BatchesInFlight  prometheus.Gauge

	// Scoring metrics
	ScoringLatency *prometheus.HistogramVec
	ScoringErrors  *prometheus.CounterVec
	FeatureWidth   prometheus.Gauge

	// Fusion metrics
	AssessmentsByTier *prometheus.CounterVec
	CombinedScore     prometheus.Histogram
	AlertsPublished   *prometheus.CounterVec

	// Model metrics
	ModelMetricUpdates *prometheus.CounterVec
	ModelMetricValue   *prometheus.GaugeVec

	// Telemetry sink metrics
	SinkDropped    *prometheus.CounterVec
	SinkFailures   *prometheus.CounterVec
	SinkQueueDepth prometheus.Gauge

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith creates a new Metrics instance registered with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "security_risk_lab"
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Total number of raw events read by source",
		}, []string{"source"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_rejected_total",
			Help:      "Total number of events rejected at the boundary by error kind",
		}, []string{"kind"}),
		IngestionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of source read errors",
		}, []string{"source"}),

		// Stream metrics
		BatchesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "batches_total",
			Help:      "Total number of batches processed by status",
		}, []string{"status"}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "batch_size",
			Help:      "Number of events per dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one batch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		BatchesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "batches_in_flight",
			Help:      "Number of batches currently being processed",
		}),

		// Scoring metrics
		ScoringLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "latency_seconds",
			Help:      "Scorer call latency by model",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"model"}),
		ScoringErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "errors_total",
			Help:      "Total number of scorer failures by model",
		}, []string{"model"}),
		FeatureWidth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "feature_width",
			Help:      "Width of the most recently produced feature vectors",
		}),

		// Fusion metrics
		AssessmentsByTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "assessments_total",
			Help:      "Total number of risk assessments by tier",
		}, []string{"tier"}),
		CombinedScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "combined_score",
			Help:      "Distribution of combined risk scores",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		AlertsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "alerts_total",
			Help:      "Total number of alert publish attempts by status",
		}, []string{"status"}),

		// Model metrics
		ModelMetricUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "models",
			Name:      "metric_updates_total",
			Help:      "Total number of model metric updates",
		}, []string{"model"}),
		ModelMetricValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "models",
			Name:      "metric_value",
			Help:      "Latest value of a model performance metric",
		}, []string{"model", "metric"}),

		// Telemetry sink metrics
		SinkDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "dropped_total",
			Help:      "Total number of telemetry records dropped because the queue was full",
		}, []string{"kind"}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "failures_total",
			Help:      "Total number of telemetry writes that failed",
		}, []string{"kind"}),
		SinkQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "queue_depth",
			Help:      "Number of telemetry records waiting to be written",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordBatch records one processed batch.
func (m *Metrics) RecordBatch(size int, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.BatchesProcessed.WithLabelValues(status).Inc()
	m.BatchSize.Observe(float64(size))
	m.BatchDuration.Observe(seconds)
}

// RecordScoring records one scorer call.
func (m *Metrics) RecordScoring(model string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ScoringLatency.WithLabelValues(model).Observe(seconds)
	if err != nil {
		m.ScoringErrors.WithLabelValues(model).Inc()
	}
}

// RecordAssessment records one fused assessment.
func (m *Metrics) RecordAssessment(tier string, combined float64) {
	if m == nil {
		return
	}
	m.AssessmentsByTier.WithLabelValues(tier).Inc()
	m.CombinedScore.Observe(combined)
}

// RecordModelMetrics records a model metrics update.
func (m *Metrics) RecordModelMetrics(model string, values map[string]float64) {
	if m == nil {
		return
	}
	m.ModelMetricUpdates.WithLabelValues(model).Inc()
	for name, v := range values {
		m.ModelMetricValue.WithLabelValues(model, name).Set(v)
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
