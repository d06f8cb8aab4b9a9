// Package verification re-derives stored risk assessments from their
// component scores and reports any field that no longer matches.
package verification

import (
	"context"
	"math"
	"slices"

	"security-risk-lab/internal/domain"
)

// FloatTolerance is the tolerance for float64 comparisons.
const FloatTolerance = 1e-7

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"` // stored value
	Actual   any    `json:"actual"`   // replayed value
}

// VerificationResult contains the result of verifying a single assessment.
type VerificationResult struct {
	AssessmentID  string            `json:"assessment_id"`
	EventID       string            `json:"event_id"`
	Match         bool              `json:"match"`
	Divergences   []FieldDivergence `json:"divergences,omitempty"`
	StoredScore   float64           `json:"stored_score"`
	ReplayedScore float64           `json:"replayed_score"`
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	Total      int                  `json:"total"`
	Matched    int                  `json:"matched"`
	Divergent  int                  `json:"divergent"`
	Unreplayed int                  `json:"unreplayed"` // stored rows whose components no longer fuse
	Results    []VerificationResult `json:"results"`
}

// Verifier checks stored assessments against the current fusion policy.
type Verifier interface {
	// VerifyAssessment loads one assessment and re-fuses its component scores.
	VerifyAssessment(ctx context.Context, id string) (*VerificationResult, error)
}

// CompareAssessments compares the derived fields of two assessments.
// IDs, timestamps and component scores are inputs, not outputs, and are
// not compared.
func CompareAssessments(stored, replayed *domain.RiskAssessment) []FieldDivergence {
	var divergences []FieldDivergence

	if !floatEquals(stored.CombinedRiskScore, replayed.CombinedRiskScore) {
		divergences = append(divergences, FieldDivergence{
			Field:    "CombinedRiskScore",
			Expected: stored.CombinedRiskScore,
			Actual:   replayed.CombinedRiskScore,
		})
	}

	if !floatEquals(stored.Confidence, replayed.Confidence) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Confidence",
			Expected: stored.Confidence,
			Actual:   replayed.Confidence,
		})
	}

	if stored.RiskTier != replayed.RiskTier {
		divergences = append(divergences, FieldDivergence{
			Field:    "RiskTier",
			Expected: stored.RiskTier,
			Actual:   replayed.RiskTier,
		})
	}

	if !slices.Equal(stored.Recommendations, replayed.Recommendations) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Recommendations",
			Expected: stored.Recommendations,
			Actual:   replayed.Recommendations,
		})
	}

	return divergences
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}
