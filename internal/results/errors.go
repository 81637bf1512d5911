package results

import (
	"errors"
	"fmt"
)

var (
	ErrNoData     = errors.New("results: no solution data")
	ErrPartial    = errors.New("results: partial or malformed solution data")
	ErrNotPassive = errors.New("results: reflection magnitude above unity")
	ErrFormat     = errors.New("results: malformed serialized record")
)

// ExtractionError reports which part of a solution could not be read.
type ExtractionError struct {
	Setup string
	Sweep string
	Stage string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("results: extract %s (%s:%s): %v", e.Stage, e.Setup, e.Sweep, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
