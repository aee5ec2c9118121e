package storage

import "errors"

var (
	// ErrNotFound is returned when a turn, entry or transcript doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when a record violates a storage invariant.
	ErrInvalid = errors.New("invalid record")
)
