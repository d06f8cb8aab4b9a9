package models

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"security-risk-lab/internal/domain"
)

// DefaultEmbeddingDim is the dimension used when none is configured.
const DefaultEmbeddingDim = 128

// HashingEmbedder maps text to a signed feature-hashing vector over
// lowercase unigrams and bigrams, L2 normalized. Empty text maps to the
// zero vector.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder of the given dimension.
func NewHashingEmbedder(dim int) (*HashingEmbedder, error) {
	if dim <= 0 {
		return nil, domain.NewConfigError("embedder", "dimension must be positive, got %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

// Dim implements Embedder.
func (e *HashingEmbedder) Dim() int { return e.dim }

// Embed implements Embedder.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func (e *HashingEmbedder) add(vec []float64, term string) {
	h := xxhash.Sum64String(term)
	idx := h % uint64(e.dim)
	if h>>63 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
