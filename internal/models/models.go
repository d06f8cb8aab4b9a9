// Package models defines the scoring collaborators the analysis pipeline
// calls and ships deterministic reference implementations of them.
package models

import (
	"context"
	"math"

	"security-risk-lab/internal/domain"
)

// Default model names.
const (
	NameThreat  = domain.ComponentThreat
	NameAnomaly = domain.ComponentAnomaly
)

// Input is everything a scorer may look at for one event.
type Input struct {
	Event     *domain.RawEvent
	Features  domain.FeatureVector
	Embedding []float64 // nil when the event has no description
}

// Scorer returns a score in [0,1] for one input, or a scoring error.
type Scorer interface {
	Name() string
	Score(ctx context.Context, in Input) (domain.ModelScore, error)
}

// Embedder turns free text into a fixed-dimension vector.
type Embedder interface {
	Dim() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// RiskLevel is the label attached to a single model's score.
type RiskLevel string

const (
	LevelCritical RiskLevel = "CRITICAL"
	LevelHigh     RiskLevel = "HIGH"
	LevelMedium   RiskLevel = "MEDIUM"
	LevelLow      RiskLevel = "LOW"
	LevelMinimal  RiskLevel = "MINIMAL"
)

// RiskLevelFor maps a single-model score to its level. The thresholds differ
// from the fusion ladder and must not be merged with it.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score > 0.9:
		return LevelCritical
	case score > 0.7:
		return LevelHigh
	case score > 0.5:
		return LevelMedium
	case score > 0.3:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Certainty is the distance of score from the 0.5 decision boundary,
// rescaled to [0,1].
func Certainty(score float64) float64 {
	return clampUnit(math.Abs(score-0.5) * 2)
}

func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
