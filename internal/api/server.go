// Package api exposes the analysis service over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/observability"
	"security-risk-lab/internal/verification"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 4 << 20

// Analyzer is the subset of analysis.Service the API serves.
type Analyzer interface {
	Fitted() bool
	Analyze(ctx context.Context, ev domain.RawEvent) (*domain.RiskAssessment, error)
	ProcessBatch(ctx context.Context, events []domain.RawEvent) []domain.BatchResult
	Models() []string
	ModelMetrics(model string) domain.MetricsSnapshot
	UpdateModelMetrics(ctx context.Context, model string, m domain.MetricsSnapshot) error
	EvaluateModel(ctx context.Context, model string, labels, predictions []int) (domain.MetricsSnapshot, error)
}

// Summarizer rolls logged predictions up into operational metrics.
type Summarizer interface {
	Summarize(ctx context.Context, model string, start, end time.Time) (domain.MetricsSnapshot, error)
}

// Server routes HTTP requests to an Analyzer.
type Server struct {
	svc      Analyzer
	summary  Summarizer
	verifier verification.Verifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	maxBody  int64
	service  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records request counts and latency and serves /metrics from g.
func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithSummarizer enables POST /v1/models/{name}/summarize.
func WithSummarizer(sum Summarizer) Option {
	return func(s *Server) { s.summary = sum }
}

// WithVerifier enables GET /v1/assessments/{id}/verify.
func WithVerifier(v verification.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithServiceName names the server spans.
func WithServiceName(name string) Option {
	return func(s *Server) { s.service = name }
}

// NewServer creates a Server.
func NewServer(svc Analyzer, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		logger:  zap.NewNop(),
		maxBody: DefaultMaxBodyBytes,
		service: "security-risk-lab",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /v1/analyze/batch", s.handleAnalyzeBatch)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /v1/models/{name}/metrics", s.handleGetMetrics)
	mux.HandleFunc("PUT /v1/models/{name}/metrics", s.handlePutMetrics)
	mux.HandleFunc("POST /v1/models/{name}/evaluate", s.handleEvaluate)
	if s.summary != nil {
		mux.HandleFunc("POST /v1/models/{name}/summarize", s.handleSummarize)
	}
	if s.verifier != nil {
		mux.HandleFunc("GET /v1/assessments/{id}/verify", s.handleVerify)
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", observability.HandlerFor(s.gatherer))
	}
	return otelhttp.NewHandler(s.instrument(mux), s.service)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		s.logger.Debug("request",
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
		)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
