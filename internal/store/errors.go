package store

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the graph store. Callers discriminate with
// errors.Is; everything else is an internal storage failure.
var (
	// ErrValidation marks a missing or out-of-range parameter. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an absent node, attribute, or relationship. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrSelfReference marks a relationship whose source and target are the same node.
	ErrSelfReference = errors.New("relationship source and target must differ")

	// ErrDuplicateEdge marks a second relationship for an existing
	// (source, target, type) triple.
	ErrDuplicateEdge = errors.New("relationship already exists")

	// ErrInsufficientData marks a confidence request for a node with zero attributes.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConflict marks a transaction conflict that survived the internal
	// retry ceiling.
	ErrConflict = errors.New("transaction conflict")

	// ErrResourceExceeded marks a result set or runtime budget overrun.
	ErrResourceExceeded = errors.New("resource budget exceeded")
)

// validationf wraps ErrValidation with a formatted detail message.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// notFoundf wraps ErrNotFound with a formatted detail message.
func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// inUnitRange reports whether v is a valid [0,1] score field.
func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
