package reporting

import (
	"sort"
	"sync"
	"time"

	"security-risk-lab/internal/domain"
)

// DefaultTopN is how many assessments the Markdown summary lists.
const DefaultTopN = 10

var tierOrder = []domain.RiskTier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow}

// Collector accumulates batch results into a Report.
// Safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	summary  RunSummary
	tiers    map[domain.RiskTier]int
	failures []BatchFailureRow
	rows     []AssessmentRow
	scoreSum float64

	now func() time.Time // Injectable clock for deterministic output
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		tiers: make(map[domain.RiskTier]int),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Add folds one batch result into the totals.
func (c *Collector) Add(res domain.BatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.summary
	s.Batches++
	s.Events += len(res.Events)
	if !res.StartedAt.IsZero() && (s.FirstStartedAt.IsZero() || res.StartedAt.Before(s.FirstStartedAt)) {
		s.FirstStartedAt = res.StartedAt
	}
	if res.CompletedAt.After(s.LastDoneAt) {
		s.LastDoneAt = res.CompletedAt
	}

	if res.Err != nil {
		s.FailedBatches++
		c.failures = append(c.failures, BatchFailureRow{
			Index:  res.Index,
			Events: len(res.Events),
			Error:  res.Err.Error(),
		})
		return
	}

	for i, a := range res.Assessments {
		if a == nil {
			if i < len(res.EventErrors) && res.EventErrors[i] != nil {
				s.ScoringErrors++
			}
			continue
		}
		s.Assessed++
		c.tiers[a.RiskTier]++
		c.scoreSum += a.CombinedRiskScore
		if a.CombinedRiskScore > s.MaxScore {
			s.MaxScore = a.CombinedRiskScore
		}
		var ev *domain.RawEvent
		if i < len(res.Events) {
			ev = &res.Events[i]
		}
		c.rows = append(c.rows, rowFor(a, ev))
	}
}

// Rows returns every collected assessment in collection order.
func (c *Collector) Rows() []AssessmentRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AssessmentRow(nil), c.rows...)
}

// Report builds the run report. metrics maps model name to its current
// metrics; topN <= 0 uses DefaultTopN.
func (c *Collector) Report(source, mode string, metrics map[string]domain.MetricsSnapshot, topN int) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topN <= 0 {
		topN = DefaultTopN
	}

	summary := c.summary
	if summary.Assessed > 0 {
		summary.MeanScore = c.scoreSum / float64(summary.Assessed)
	}

	tiers := make([]TierRow, 0, len(tierOrder))
	for _, t := range tierOrder {
		row := TierRow{Tier: t, Count: c.tiers[t]}
		if summary.Assessed > 0 {
			row.Share = float64(row.Count) / float64(summary.Assessed)
		}
		tiers = append(tiers, row)
	}

	failures := append([]BatchFailureRow(nil), c.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })

	models := make([]ModelMetricRow, 0, len(metrics))
	for name, snap := range metrics {
		models = append(models, ModelMetricRow{Model: name, Metrics: snap.Clone()})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Model < models[j].Model })

	top := append([]AssessmentRow(nil), c.rows...)
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Combined != top[j].Combined {
			return top[i].Combined > top[j].Combined
		}
		return top[i].AssessmentID < top[j].AssessmentID
	})
	if len(top) > topN {
		top = top[:topN]
	}

	return &Report{
		GeneratedAt:    c.now(),
		Source:         source,
		StreamMode:     mode,
		Summary:        summary,
		Tiers:          tiers,
		BatchFailures:  failures,
		ModelMetrics:   models,
		TopAssessments: top,
	}
}

func rowFor(a *domain.RiskAssessment, ev *domain.RawEvent) AssessmentRow {
	row := AssessmentRow{
		AssessmentID: a.ID,
		EventID:      a.EventID,
		Tier:         a.RiskTier,
		Combined:     a.CombinedRiskScore,
		Threat:       a.ComponentScores[domain.ComponentThreat].Score,
		Anomaly:      a.ComponentScores[domain.ComponentAnomaly].Score,
		Confidence:   a.Confidence,
	}
	if len(a.Recommendations) > 0 {
		row.Recommendation = a.Recommendations[0]
	}
	if ev != nil {
		row.EventType = ev.EventType
		row.SourceIP = ev.SourceIP
		row.Timestamp = ev.Timestamp
	}
	return row
}
