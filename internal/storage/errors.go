package storage

import "errors"

// Outcome store errors. Outcomes are append-only.
var (
	// ErrNotFound is returned when no outcome has the requested id.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting an outcome whose id is
	// already stored.
	ErrDuplicateKey = errors.New("duplicate key: outcomes are append-only")

	// ErrInvalidInput is returned when an outcome misses required fields.
	ErrInvalidInput = errors.New("invalid input")
)
