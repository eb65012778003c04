// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a payload that could not be decoded.
	ErrMalformedInput = errors.New("malformed input")
	ErrValidation     = errors.New("validation failed")
	ErrDuplicate      = errors.New("duplicate record")
	ErrNotFound       = errors.New("not found")
	// ErrRejected is a business rejection (rate limit, credits, provider 4xx).
	ErrRejected = errors.New("rejected")
)

// ErrProfileNotFound is returned when a (platform, handle) pair does not
// resolve to a tracked profile.
type ErrProfileNotFound struct {
	Platform string
	Handle   string
}

func (e *ErrProfileNotFound) Error() string {
	return fmt.Sprintf("profile %s/%s not found", e.Platform, e.Handle)
}

func (e *ErrProfileNotFound) Is(target error) bool {
	return target == ErrNotFound
}

// Helper constructor
func NewProfileNotFound(platform, handle string) error {
	return &ErrProfileNotFound{Platform: platform, Handle: handle}
}

// NewValidation wraps ErrValidation with the offending detail.
func NewValidation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewMalformed wraps a decode failure.
func NewMalformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedInput, err)
}

func NewRejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}
