package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/metrics"
	"security-risk-lab/internal/verification"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Fitted bool   `json:"fitted"`
}

type batchResponse struct {
	Index       int                      `json:"index"`
	Events      int                      `json:"events"`
	Error       string                   `json:"error,omitempty"`
	Assessments []*domain.RiskAssessment `json:"assessments,omitempty"`
	EventErrors []*string                `json:"event_errors,omitempty"`
}

type metricsResponse struct {
	Model   string                 `json:"model"`
	Metrics domain.MetricsSnapshot `json:"metrics"`
}

// evaluateRequest carries either binary predictions or raw scores plus a
// threshold.
type evaluateRequest struct {
	Labels      []int     `json:"labels"`
	Predictions []int     `json:"predictions,omitempty"`
	Scores      []float64 `json:"scores,omitempty"`
	Threshold   *float64  `json:"threshold,omitempty"`
}

// defaultThreshold applies when scores are sent without a threshold.
const defaultThreshold = 0.5

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var ev domain.RawEvent
	if !s.decode(w, r, &ev) {
		return
	}
	a, err := s.svc.Analyze(r.Context(), ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var events []domain.RawEvent
	if !s.decode(w, r, &events) {
		return
	}
	if len(events) == 0 {
		s.writeError(w, domain.NewEmptyBatchError("analyze_batch"))
		return
	}

	results := s.svc.ProcessBatch(r.Context(), events)
	out := make([]batchResponse, 0, len(results))
	for _, res := range results {
		br := batchResponse{Index: res.Index, Events: len(res.Events)}
		if res.Err != nil {
			br.Error = res.Err.Error()
		} else {
			br.Assessments = res.Assessments
			br.EventErrors = make([]*string, len(res.EventErrors))
			for i, err := range res.EventErrors {
				if err != nil {
					msg := err.Error()
					br.EventErrors[i] = &msg
				}
			}
		}
		out = append(out, br)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": s.svc.Models()})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap := s.svc.ModelMetrics(name)
	if len(snap) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("no metrics for model %q", name)})
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Model: name, Metrics: snap})
}

func (s *Server) handlePutMetrics(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var snap domain.MetricsSnapshot
	if !s.decode(w, r, &snap) {
		return
	}
	if err := s.svc.UpdateModelMetrics(r.Context(), name, snap); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Model: name, Metrics: s.svc.ModelMetrics(name)})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}

	predictions := req.Predictions
	if predictions == nil && req.Scores != nil {
		threshold := defaultThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		var err error
		predictions, err = metrics.ThresholdPredictions(req.Scores, threshold)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	snap, err := s.svc.EvaluateModel(r.Context(), name, req.Labels, predictions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Model: name, Metrics: snap})
}

// defaultSummaryWindow is the look-back of summarize when no window is given.
const defaultSummaryWindow = time.Hour

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	window := defaultSummaryWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, domain.NewValidationError("window", "invalid duration %q", raw))
			return
		}
		window = d
	}

	end := time.Now().UTC()
	snap, err := s.summary.Summarize(r.Context(), name, end.Add(-window), end)
	if errors.Is(err, metrics.ErrNoPredictions) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{Model: name, Metrics: snap})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.verifier.VerifyAssessment(r.Context(), r.PathValue("id"))
	if errors.Is(err, verification.ErrAssessmentNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Fitted: s.svc.Fitted()})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("invalid JSON: %v", err),
			Kind:  string(domain.KindValidation),
		})
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindEmptyBatch:
		return http.StatusBadRequest
	case domain.KindConfig:
		return http.StatusConflict
	case domain.KindScoring:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(domain.KindOf(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
