package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the pipeline.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNoDocuments         = errors.New("no documents to process")
	ErrAllDuplicates       = errors.New("all documents are duplicates")
	ErrDimensionMismatch   = errors.New("embedding dimensionality mismatch")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrEmptyQuestion       = errors.New("question is empty")
	ErrInvalidRole         = errors.New("invalid message role")
)

// ValidationError wraps a sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
