package reporting

import (
	"encoding/csv"
	"io"
	"strconv"
)

var csvHeader = []string{
	"assessment_id", "event_id", "event_type", "source_ip", "timestamp",
	"risk_tier", "combined_risk_score", "threat_score", "anomaly_score",
	"confidence", "recommendation",
}

// WriteCSV writes assessment rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []AssessmentRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.AssessmentID,
			r.EventID,
			r.EventType,
			r.SourceIP,
			r.Timestamp,
			string(r.Tier),
			formatScore(r.Combined),
			formatScore(r.Threat),
			formatScore(r.Anomaly),
			formatScore(r.Confidence),
			r.Recommendation,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
