package antenna

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpec is matched by every InvalidSpecError.
	ErrInvalidSpec = errors.New("antenna: invalid design spec")

	// ErrDegenerateGeometry indicates an intermediate dimension came out non-positive.
	ErrDegenerateGeometry = errors.New("antenna: synthesized dimension is not positive")
)

// InvalidSpecError reports which design input or derived quantity is unusable.
type InvalidSpecError struct {
	Field  string
	Value  float64
	Reason string
	Cause  error
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("antenna: invalid %s = %g: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidSpecError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidSpec, e.Cause}
	}
	return []error{ErrInvalidSpec}
}

func invalid(field string, value float64, reason string) error {
	return &InvalidSpecError{Field: field, Value: value, Reason: reason}
}

func degenerate(field string, value float64) error {
	return &InvalidSpecError{Field: field, Value: value, Reason: "must be positive", Cause: ErrDegenerateGeometry}
}
