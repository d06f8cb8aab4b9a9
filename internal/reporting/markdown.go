package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"security-risk-lab/internal/idhash"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Risk Pipeline Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.Source != "" {
		sb.WriteString(fmt.Sprintf("Source: %s | Stream mode: %s\n\n", r.Source, r.StreamMode))
	}

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Batches | %d |\n", s.Batches))
	sb.WriteString(fmt.Sprintf("| Failed Batches | %d |\n", s.FailedBatches))
	sb.WriteString(fmt.Sprintf("| Events | %d |\n", s.Events))
	sb.WriteString(fmt.Sprintf("| Assessed | %d |\n", s.Assessed))
	sb.WriteString(fmt.Sprintf("| Scoring Errors | %d |\n", s.ScoringErrors))
	sb.WriteString(fmt.Sprintf("| Mean Score | %.4f |\n", s.MeanScore))
	sb.WriteString(fmt.Sprintf("| Max Score | %.4f |\n", s.MaxScore))
	if !s.FirstStartedAt.IsZero() && !s.LastDoneAt.IsZero() {
		sb.WriteString(fmt.Sprintf("| Wall Time | %s |\n", s.LastDoneAt.Sub(s.FirstStartedAt).Round(time.Millisecond)))
	}
	sb.WriteString("\n")

	// Tiers
	sb.WriteString("## Risk Tiers\n\n")
	sb.WriteString("| Tier | Count | Share |\n")
	sb.WriteString("|------|-------|-------|\n")
	for _, t := range r.Tiers {
		sb.WriteString(fmt.Sprintf("| %s | %d | %.2f%% |\n", t.Tier, t.Count, t.Share*100))
	}
	sb.WriteString("\n")

	// Batch failures
	sb.WriteString("## Batch Failures\n\n")
	if len(r.BatchFailures) > 0 {
		sb.WriteString("| Batch | Events | Error |\n")
		sb.WriteString("|-------|--------|-------|\n")
		for _, f := range r.BatchFailures {
			sb.WriteString(fmt.Sprintf("| %d | %d | %s |\n", f.Index, f.Events, escapeCell(f.Error)))
		}
	} else {
		sb.WriteString("No batch failures.\n")
	}
	sb.WriteString("\n")

	// Model metrics
	sb.WriteString("## Model Metrics\n\n")
	if len(r.ModelMetrics) > 0 {
		sb.WriteString("| Model | Metric | Value |\n")
		sb.WriteString("|-------|--------|-------|\n")
		for _, m := range r.ModelMetrics {
			names := make([]string, 0, len(m.Metrics))
			for k := range m.Metrics {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				sb.WriteString(fmt.Sprintf("| %s | %s | %.4f |\n", m.Model, k, m.Metrics[k]))
			}
		}
	} else {
		sb.WriteString("No model metrics available.\n")
	}
	sb.WriteString("\n")

	// Top assessments
	sb.WriteString("## Top Assessments\n\n")
	if len(r.TopAssessments) > 0 {
		sb.WriteString("| Event | Type | Source IP | Tier | Combined | Threat | Anomaly | Confidence |\n")
		sb.WriteString("|-------|------|-----------|------|----------|--------|---------|------------|\n")
		for _, a := range r.TopAssessments {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %.4f | %.4f | %.4f | %.4f |\n",
				idhash.ShortRef(a.EventID), a.EventType, a.SourceIP, a.Tier,
				a.Combined, a.Threat, a.Anomaly, a.Confidence))
		}
	} else {
		sb.WriteString("No assessments.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
