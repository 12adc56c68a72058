package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAssigned indicates a duplicate role grant for the same scope.
	ErrAlreadyAssigned = errors.New("role already assigned")
	// ErrUpstreamUnavailable indicates the durable store or cache is unreachable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrCacheMiss indicates no cached entry exists for the requested key.
	ErrCacheMiss = errors.New("cache miss")
)

// ValidationError reports a malformed request, naming the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError constructs a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DataIntegrityError reports a stored attribute value that cannot be decoded
// per its declared type. Resolution logs it and substitutes the default; it
// is never returned to callers of the resolution path.
type DataIntegrityError struct {
	Attribute string
	Declared  string
	Err       error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: attribute %q not decodable as %s: %v", e.Attribute, e.Declared, e.Err)
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }
