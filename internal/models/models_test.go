package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-risk-lab/internal/domain"
)

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.95, LevelCritical},
		{0.9, LevelHigh},
		{0.71, LevelHigh},
		{0.7, LevelMedium},
		{0.51, LevelMedium},
		{0.5, LevelLow},
		{0.31, LevelLow},
		{0.3, LevelMinimal},
		{0, LevelMinimal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelFor(tt.score), "score %v", tt.score)
	}
}

func TestCertainty(t *testing.T) {
	assert.InDelta(t, 1.0, Certainty(0), 1e-12)
	assert.InDelta(t, 0.0, Certainty(0.5), 1e-12)
	assert.InDelta(t, 0.8, Certainty(0.9), 1e-12)
}

func TestAnomalyScorer(t *testing.T) {
	s := NewAnomalyScorer()
	ctx := context.Background()

	got, err := s.Score(ctx, Input{Features: domain.FeatureVector{0, 0, 0}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got.Score, 1e-12)
	assert.InDelta(t, 1.0, got.ConfidenceOr(-1), 1e-12)
	assert.Equal(t, string(LevelMinimal), got.Label)

	got, err = s.Score(ctx, Input{Features: domain.FeatureVector{1, -1}})
	require.NoError(t, err)
	want := 1 - math.Exp(-1)
	assert.InDelta(t, want, got.Score, 1e-12)
	assert.InDelta(t, math.Abs(want-0.5)*2, got.ConfidenceOr(-1), 1e-12)
	assert.Equal(t, string(LevelMedium), got.Label)
}

func TestAnomalyScorer_Errors(t *testing.T) {
	s := NewAnomalyScorer()

	_, err := s.Score(context.Background(), Input{})
	assert.True(t, errors.Is(err, domain.ErrScoring))

	_, err = s.Score(context.Background(), Input{Features: domain.FeatureVector{math.NaN()}})
	assert.True(t, errors.Is(err, domain.ErrScoring))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Score(ctx, Input{Features: domain.FeatureVector{1}})
	assert.True(t, errors.Is(err, domain.ErrScoring))
	assert.True(t, errors.Is(err, context.Canceled))
}

func newThreatScorer(t *testing.T) (*ThreatScorer, *HashingEmbedder) {
	t.Helper()
	emb, err := NewHashingEmbedder(DefaultEmbeddingDim)
	require.NoError(t, err)
	s, err := NewThreatScorer(context.Background(), emb)
	require.NoError(t, err)
	return s, emb
}

func TestThreatScorer_FeaturesOnly(t *testing.T) {
	s, _ := newThreatScorer(t)

	got, err := s.Score(context.Background(), Input{Features: domain.FeatureVector{0, 0}})
	require.NoError(t, err)

	want := 1 / (1 + math.Exp(2))
	assert.InDelta(t, want, got.Score, 1e-12)
	assert.InDelta(t, Certainty(want), got.ConfidenceOr(-1), 1e-12)
	assert.Equal(t, string(LevelMinimal), got.Label)
}

func TestThreatScorer_LargeDeviationRaisesScore(t *testing.T) {
	s, _ := newThreatScorer(t)

	low, err := s.Score(context.Background(), Input{Features: domain.FeatureVector{0.1, 0.1}})
	require.NoError(t, err)
	high, err := s.Score(context.Background(), Input{Features: domain.FeatureVector{4, -4}})
	require.NoError(t, err)
	assert.Greater(t, high.Score, low.Score)
	assert.Greater(t, high.Score, 0.9)
}

func TestThreatScorer_ThreatDescriptionRaisesScore(t *testing.T) {
	s, emb := newThreatScorer(t)
	ctx := context.Background()
	features := domain.FeatureVector{0, 0}

	plain, err := s.Score(ctx, Input{Features: features})
	require.NoError(t, err)

	vec, err := emb.Embed(ctx, "multiple failed login attempts, brute force attack")
	require.NoError(t, err)
	withText, err := s.Score(ctx, Input{Features: features, Embedding: vec})
	require.NoError(t, err)

	assert.Greater(t, withText.Score, plain.Score)
	require.NoError(t, withText.Validate(s.Name()))
}

func TestThreatScorer_EmbeddingDimensionMismatch(t *testing.T) {
	s, _ := newThreatScorer(t)
	_, err := s.Score(context.Background(), Input{Features: domain.FeatureVector{1}, Embedding: []float64{1, 0}})
	assert.True(t, errors.Is(err, domain.ErrScoring))
}

func TestNewThreatScorer_Config(t *testing.T) {
	_, err := NewThreatScorer(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	emb, err := NewHashingEmbedder(16)
	require.NoError(t, err)
	_, err = NewThreatScorer(context.Background(), emb, WithKeywords())
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestHashingEmbedder(t *testing.T) {
	emb, err := NewHashingEmbedder(64)
	require.NoError(t, err)
	assert.Equal(t, 64, emb.Dim())
	ctx := context.Background()

	a, err := emb.Embed(ctx, "Suspicious login from unknown host")
	require.NoError(t, err)
	b, err := emb.Embed(ctx, "suspicious LOGIN from unknown host!")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)

	empty, err := emb.Embed(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, empty, 64)
	for _, v := range empty {
		assert.Zero(t, v)
	}

	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
	assert.Zero(t, Cosine(a, empty))
}

func TestNewHashingEmbedder_RejectsBadDim(t *testing.T) {
	_, err := NewHashingEmbedder(0)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
