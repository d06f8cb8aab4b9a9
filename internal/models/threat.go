package models

import (
	"context"
	"fmt"
	"math"
	"strings"

	"security-risk-lab/internal/domain"
)

// Blend weights of the two threat signals.
const (
	featureSignalWeight = 0.7
	textSignalWeight    = 0.3
)

// DefaultThreatKeywords seed the text prototype of the threat scorer.
var DefaultThreatKeywords = []string{
	"attack", "brute force", "exploit", "exfiltration", "failed login",
	"injection", "malware", "phishing", "privilege escalation", "ransomware",
	"scan", "suspicious", "unauthorized",
}

// ThreatScorer is the hybrid reference classifier. A logistic over the
// feature magnitude is blended 0.7/0.3 with the cosine similarity between
// the event's description embedding and a keyword prototype. Events without
// an embedding are scored on features alone.
type ThreatScorer struct {
	name      string
	bias      float64
	gain      float64
	prototype []float64
}

// ThreatOption configures a ThreatScorer.
type ThreatOption func(*threatConfig)

type threatConfig struct {
	bias     float64
	gain     float64
	keywords []string
}

// WithLogistic sets the bias and gain of the feature logistic.
func WithLogistic(bias, gain float64) ThreatOption {
	return func(c *threatConfig) {
		c.bias = bias
		c.gain = gain
	}
}

// WithKeywords replaces the keyword prototype.
func WithKeywords(keywords ...string) ThreatOption {
	return func(c *threatConfig) {
		c.keywords = keywords
	}
}

// NewThreatScorer embeds the keyword prototype with emb and returns the scorer.
func NewThreatScorer(ctx context.Context, emb Embedder, opts ...ThreatOption) (*ThreatScorer, error) {
	cfg := threatConfig{
		bias:     -2,
		gain:     1.5,
		keywords: DefaultThreatKeywords,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if emb == nil {
		return nil, domain.NewConfigError("threat_scorer", "embedder is required")
	}
	if len(cfg.keywords) == 0 {
		return nil, domain.NewConfigError("threat_scorer", "at least one keyword is required")
	}

	proto, err := emb.Embed(ctx, strings.Join(cfg.keywords, " "))
	if err != nil {
		return nil, fmt.Errorf("embed threat prototype: %w", err)
	}

	return &ThreatScorer{
		name:      NameThreat,
		bias:      cfg.bias,
		gain:      cfg.gain,
		prototype: proto,
	}, nil
}

// Name implements Scorer.
func (s *ThreatScorer) Name() string { return s.name }

// Score implements Scorer.
func (s *ThreatScorer) Score(ctx context.Context, in Input) (domain.ModelScore, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelScore{}, domain.NewScoringError(s.name, err, "scoring cancelled")
	}
	if len(in.Features) == 0 {
		return domain.ModelScore{}, domain.NewScoringError(s.name, nil, "empty feature vector")
	}

	var sq float64
	for _, v := range in.Features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.ModelScore{}, domain.NewScoringError(s.name, nil, "non-finite feature value %v", v)
		}
		sq += v * v
	}
	rms := math.Sqrt(sq / float64(len(in.Features)))
	featureScore := sigmoid(s.bias + s.gain*rms)
	featureConf := Certainty(featureScore)

	score, conf := featureScore, featureConf
	if len(in.Embedding) > 0 {
		if len(in.Embedding) != len(s.prototype) {
			return domain.ModelScore{}, domain.NewScoringError(s.name, nil,
				"embedding dimension %d, want %d", len(in.Embedding), len(s.prototype))
		}
		textScore := clampUnit(Cosine(in.Embedding, s.prototype))
		score = featureSignalWeight*featureScore + textSignalWeight*textScore
		conf = (featureConf + Certainty(textScore)) / 2
	}

	score = clampUnit(score)
	out := domain.NewModelScore(score, clampUnit(conf))
	out.Label = string(RiskLevelFor(score))
	return out, nil
}
