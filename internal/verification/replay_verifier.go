package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"security-risk-lab/internal/domain"
	"security-risk-lab/internal/fusion"
	"security-risk-lab/internal/storage"
)

// ErrAssessmentNotFound is returned when the assessment ID doesn't exist.
var ErrAssessmentNotFound = errors.New("assessment not found")

// FusionVerifier replays stored component scores through a Fuser.
type FusionVerifier struct {
	store storage.AssessmentStore
	fuser *fusion.Fuser
}

// NewFusionVerifier creates a FusionVerifier.
func NewFusionVerifier(store storage.AssessmentStore, fuser *fusion.Fuser) *FusionVerifier {
	return &FusionVerifier{store: store, fuser: fuser}
}

// VerifyAssessment implements Verifier.
func (v *FusionVerifier) VerifyAssessment(ctx context.Context, id string) (*VerificationResult, error) {
	stored, err := v.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return v.verify(stored)
}

// VerifyRange verifies every assessment created within [start, end].
// Assessments whose stored components fail validation are counted as
// unreplayed rather than aborting the run.
func (v *FusionVerifier) VerifyRange(ctx context.Context, start, end time.Time) (*VerificationReport, error) {
	stored, err := v.store.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{Results: make([]VerificationResult, 0, len(stored))}
	for _, a := range stored {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Total++
		res, err := v.verify(a)
		if err != nil {
			report.Unreplayed++
			continue
		}
		if res.Match {
			report.Matched++
		} else {
			report.Divergent++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}

func (v *FusionVerifier) verify(stored *domain.RiskAssessment) (*VerificationResult, error) {
	threat, ok := stored.ComponentScores[domain.ComponentThreat]
	if !ok {
		return nil, fmt.Errorf("assessment %s: missing %s component", stored.ID, domain.ComponentThreat)
	}
	anomaly, ok := stored.ComponentScores[domain.ComponentAnomaly]
	if !ok {
		return nil, fmt.Errorf("assessment %s: missing %s component", stored.ID, domain.ComponentAnomaly)
	}

	replayed, err := v.fuser.Fuse(threat, anomaly)
	if err != nil {
		return nil, fmt.Errorf("assessment %s: %w", stored.ID, err)
	}

	divergences := CompareAssessments(stored, replayed)
	return &VerificationResult{
		AssessmentID:  stored.ID,
		EventID:       stored.EventID,
		Match:         len(divergences) == 0,
		Divergences:   divergences,
		StoredScore:   stored.CombinedRiskScore,
		ReplayedScore: replayed.CombinedRiskScore,
	}, nil
}
