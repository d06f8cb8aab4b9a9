package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{NewValidationError("port", "not a number"), ErrValidation},
		{NewEmptyBatchError("transform"), ErrEmptyBatch},
		{NewConfigError("fusion", "weights sum to %.2f", 0.8), ErrConfig},
		{NewScoringError("threat", nil, "timeout"), ErrScoring},
	}

	sentinels := []error{ErrValidation, ErrEmptyBatch, ErrConfig, ErrScoring}
	for _, tt := range tests {
		wrapped := fmt.Errorf("analyze: %w", tt.err)
		for _, s := range sentinels {
			assert.Equal(t, s == tt.want, errors.Is(wrapped, s), "%v vs %v", tt.err, s)
		}
	}
}

func TestError_MessageNamesFieldAndStage(t *testing.T) {
	err := &Error{Kind: KindValidation, Field: "timestamp", Stage: "record 3", Msg: "bad format"}
	assert.Equal(t, "validation [record 3] field timestamp: bad format", err.Error())
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewScoringError("remote", cause, "request failed")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindScoring, KindOf(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestModelScore_Validate(t *testing.T) {
	assert.NoError(t, NewModelScore(0.3, 1).Validate("m"))
	assert.NoError(t, ModelScore{Score: 0}.Validate("m"))
	assert.ErrorIs(t, ModelScore{Score: 1.2}.Validate("m"), ErrScoring)
	assert.ErrorIs(t, NewModelScore(0.5, -0.1).Validate("m"), ErrScoring)
}

func TestMetricsSnapshot_Clone(t *testing.T) {
	var nilSnap MetricsSnapshot
	assert.NotNil(t, nilSnap.Clone())

	orig := MetricsSnapshot{"accuracy": 0.9}
	c := orig.Clone()
	c["accuracy"] = 0.1
	assert.Equal(t, 0.9, orig["accuracy"])
}

func TestModelScore_Clone(t *testing.T) {
	orig := NewModelScore(0.4, 0.6)
	c := orig.Clone()
	*orig.Confidence = 0.1
	assert.Equal(t, 0.6, *c.Confidence)

	assert.Nil(t, ModelScore{Score: 0.2}.Clone().Confidence)
}
