package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindEmptyBatch ErrorKind = "empty_batch"
	KindConfig     ErrorKind = "config"
	KindScoring    ErrorKind = "scoring"
)

// Sentinels for errors.Is matching against an Error of the same kind.
var (
	ErrValidation = errors.New("validation error")
	ErrEmptyBatch = errors.New("empty batch")
	ErrConfig     = errors.New("config error")
	ErrScoring    = errors.New("scoring error")
)

// Error is the pipeline error type. Field names the offending input field
// (validation), Stage names the pipeline stage or model that failed.
type Error struct {
	Kind  ErrorKind
	Field string
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" [")
		b.WriteString(e.Stage)
		b.WriteString("]")
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindEmptyBatch:
		return ErrEmptyBatch
	case KindConfig:
		return ErrConfig
	case KindScoring:
		return ErrScoring
	default:
		return nil
	}
}

// NewValidationError reports a malformed or missing input field.
func NewValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NewEmptyBatchError reports a stage that received no records.
func NewEmptyBatchError(stage string) *Error {
	return &Error{Kind: KindEmptyBatch, Stage: stage, Msg: "no records to process"}
}

// NewConfigError reports an invalid configuration value.
func NewConfigError(stage, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// NewScoringError reports a model collaborator that could not produce a score.
func NewScoringError(model string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindScoring, Stage: model, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
