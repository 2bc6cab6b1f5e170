package api

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrNetwork    = errors.New("network unavailable")
	ErrGeometry   = errors.New("invalid geometry")
)

// ValidationError reports bad input shape. It is always fatal to the current
// invocation and is raised before anything is modified.
type ValidationError struct {
	Op  string
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError with a formatted message.
func Invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a failed catalog, manifest or download request.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// GeometryError reports a feature whose geometry cannot be used.
type GeometryError struct {
	Feature int
	Msg     string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("feature %d: %s", e.Feature, e.Msg)
}

func (e *GeometryError) Is(target error) bool { return target == ErrGeometry }
