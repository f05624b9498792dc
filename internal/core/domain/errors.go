package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an id does not resolve to an existing task or execution
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when a required field is missing or malformed
	ErrValidation = errors.New("validation failed")

	// ErrTransient is returned for network or timeout class failures worth retrying by the caller
	ErrTransient = errors.New("transient failure")
)

// ValidationError names the fields that failed validation
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
