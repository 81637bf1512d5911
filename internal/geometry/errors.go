package geometry

import (
	"errors"
	"fmt"
)

var (
	ErrNameCollision    = errors.New("geometry: duplicate object name")
	ErrUnknownReference = errors.New("geometry: reference to an object not yet created")
	ErrOutOfBounds      = errors.New("geometry: object outside substrate extents")
	ErrMalformed        = errors.New("geometry: command payload does not match its kind")
)

// GeometryError locates a rejected command in a sequence.
type GeometryError struct {
	Index   int
	Command string
	Reason  string
	Err     error
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: command %d (%s): %s", e.Index, e.Command, e.Reason)
}

func (e *GeometryError) Unwrap() error { return e.Err }
