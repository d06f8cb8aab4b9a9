package storage

import "errors"

var (
	// ErrNotFound: no assessment, snapshot or checkpoint with that key.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey: assessments and prediction logs are write-once.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput: a nil record, empty key or negative offset.
	ErrInvalidInput = errors.New("storage: invalid input")
)
