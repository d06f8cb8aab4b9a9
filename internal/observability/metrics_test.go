package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBatch(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")

	m.RecordBatch(32, 0.01, nil)
	m.RecordBatch(4, 0.02, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesProcessed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesProcessed.WithLabelValues("failed")))
}

func TestRecordScoring(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")

	m.RecordScoring("threat", 0.001, nil)
	m.RecordScoring("threat", 0.001, errors.New("timeout"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoringErrors.WithLabelValues("threat")))
}

func TestRecordModelMetrics(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")

	m.RecordModelMetrics("anomaly", map[string]float64{"accuracy": 0.93})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModelMetricUpdates.WithLabelValues("anomaly")))
	assert.Equal(t, 0.93, testutil.ToFloat64(m.ModelMetricValue.WithLabelValues("anomaly", "accuracy")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordBatch(1, 0, nil)
	m.RecordScoring("x", 0, nil)
	m.RecordAssessment("LOW", 0.1)
	m.RecordModelMetrics("x", nil)
	m.RecordDBQuery("postgres", "insert", 0, nil)
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")
	m.RecordAssessment("HIGH", 0.7)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `test_fusion_assessments_total{tier="HIGH"} 1`))
}

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "risklab-test", "", nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
