package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// ErrDataFormat marks whole-table failures that abort an engine
	// invocation, as opposed to per-entity failures that become flagged
	// entries in the output.
	ErrDataFormat = errors.New("unusable input data")

	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: analysis run", ErrNotFound)
)

// NewDataFormatError creates a data format error with context
func NewDataFormatError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDataFormat, reason)
}

// IsDataFormatError checks whether err stems from unusable input.
func IsDataFormatError(err error) bool {
	return errors.Is(err, ErrDataFormat)
}
