package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-risk-lab/internal/domain"
)

func newDefaultFuser(t *testing.T) *Fuser {
	t.Helper()
	f, err := NewFuser(DefaultConfig())
	require.NoError(t, err)
	return f
}

func TestFuse_HighAgreementIsCritical(t *testing.T) {
	f := newDefaultFuser(t)

	got, err := f.Fuse(domain.NewModelScore(0.9, 0.9), domain.NewModelScore(0.9, 0.9))
	require.NoError(t, err)

	assert.InDelta(t, 0.9, got.CombinedRiskScore, 1e-12)
	assert.InDelta(t, 0.9, got.Confidence, 1e-12)
	assert.Equal(t, domain.TierCritical, got.RiskTier)
	assert.Equal(t, []string{
		"Immediate action required",
		"Isolate affected systems",
		"Initiate incident response protocol",
		"Notify security team immediately",
	}, got.Recommendations)
	assert.NotEmpty(t, got.ID)
	assert.Len(t, got.ComponentScores, 2)
}

func TestFuse_WeightedMedium(t *testing.T) {
	f := newDefaultFuser(t)

	got, err := f.Fuse(domain.NewModelScore(0.5, 0.5), domain.NewModelScore(0.3, 0.7))
	require.NoError(t, err)

	assert.InDelta(t, 0.42, got.CombinedRiskScore, 1e-12)
	assert.InDelta(t, 0.6, got.Confidence, 1e-12)
	assert.Equal(t, domain.TierMedium, got.RiskTier)
	assert.Equal(t, Recommendations(domain.TierMedium), got.Recommendations)
}

func TestFuse_MissingConfidenceDefaults(t *testing.T) {
	f := newDefaultFuser(t)

	got, err := f.Fuse(domain.ModelScore{Score: 0.2}, domain.NewModelScore(0.1, 0.9))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.Confidence, 1e-12)
	assert.Equal(t, domain.TierLow, got.RiskTier)
	assert.Equal(t, []string{"Continue normal monitoring", "Log for future reference"}, got.Recommendations)
}

func TestFuse_RejectsOutOfRangeScores(t *testing.T) {
	f := newDefaultFuser(t)

	_, err := f.Fuse(domain.ModelScore{Score: 1.5}, domain.NewModelScore(0.1, 0.9))
	assert.True(t, errors.Is(err, domain.ErrScoring))

	_, err = f.Fuse(domain.NewModelScore(0.5, 0.5), domain.NewModelScore(0.5, 2))
	assert.True(t, errors.Is(err, domain.ErrScoring))
}

func TestFuse_CustomWeights(t *testing.T) {
	f, err := NewFuser(Config{ThreatWeight: 0.25, AnomalyWeight: 0.75})
	require.NoError(t, err)

	got, err := f.Fuse(domain.NewModelScore(1, 1), domain.NewModelScore(0.6, 1))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.CombinedRiskScore, 1e-12)
	assert.Equal(t, domain.TierHigh, got.RiskTier)
}

func TestFuse_RecommendationsAreIndependentCopies(t *testing.T) {
	f := newDefaultFuser(t)

	a, err := f.Fuse(domain.NewModelScore(0.9, 0.9), domain.NewModelScore(0.9, 0.9))
	require.NoError(t, err)
	a.Recommendations[0] = "changed"

	b, err := f.Fuse(domain.NewModelScore(0.9, 0.9), domain.NewModelScore(0.9, 0.9))
	require.NoError(t, err)
	assert.Equal(t, "Immediate action required", b.Recommendations[0])
}

func TestFuse_ComponentScoresDoNotAliasInputs(t *testing.T) {
	threat := domain.NewModelScore(0.5, 0.5)
	anomaly := domain.NewModelScore(0.3, 0.7)

	a, err := newDefaultFuser(t).Fuse(threat, anomaly)
	require.NoError(t, err)

	*threat.Confidence = 0.01
	*anomaly.Confidence = 0.02

	assert.Equal(t, 0.5, *a.ComponentScores[domain.ComponentThreat].Confidence)
	assert.Equal(t, 0.7, *a.ComponentScores[domain.ComponentAnomaly].Confidence)
}

func TestTierFor_StrictThresholds(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskTier
	}{
		{1.0, domain.TierCritical},
		{0.8000001, domain.TierCritical},
		{0.8, domain.TierHigh},
		{0.61, domain.TierHigh},
		{0.6, domain.TierMedium},
		{0.41, domain.TierMedium},
		{0.4, domain.TierLow},
		{0, domain.TierLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.score), "score %v", tt.score)
	}
}

func TestNewFuser_RejectsBadWeights(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"sum below one", Config{ThreatWeight: 0.5, AnomalyWeight: 0.3}},
		{"sum above one", Config{ThreatWeight: 0.7, AnomalyWeight: 0.4}},
		{"negative", Config{ThreatWeight: 1.5, AnomalyWeight: -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFuser(tt.cfg)
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, domain.ErrConfig))
		})
	}
}

func TestValidate_NamesThreatWeightFirst(t *testing.T) {
	for i := 0; i < 20; i++ {
		err := Config{ThreatWeight: -1, AnomalyWeight: math.NaN()}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), OptThreatWeight)
	}

	err := Config{ThreatWeight: 0.5, AnomalyWeight: math.Inf(1)}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), OptAnomalyWeight)
}

func TestConfigFromOptions(t *testing.T) {
	cfg, err := ConfigFromOptions(map[string]float64{OptThreatWeight: 0.7, OptAnomalyWeight: 0.3})
	require.NoError(t, err)
	assert.Equal(t, Config{ThreatWeight: 0.7, AnomalyWeight: 0.3}, cfg)

	cfg, err = ConfigFromOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = ConfigFromOptions(map[string]float64{"text_weight": 0.1})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = ConfigFromOptions(map[string]float64{OptThreatWeight: 0.5})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
