package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
)

var (
	ErrIllegalTransition = errors.New("orchestrator: illegal state transition")
	ErrInvalidConfig     = errors.New("orchestrator: invalid configuration")
)

// EngineLaunchError is a failure to obtain a usable engine session.
// Transient failures were retried until the attempt budget ran out.
type EngineLaunchError struct {
	Transient bool
	Attempts  int
	Err       error
}

func (e *EngineLaunchError) Error() string {
	class := "fatal"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("engine launch failed (%s, %d attempts): %v", class, e.Attempts, e.Err)
}

func (e *EngineLaunchError) Unwrap() error { return e.Err }

// SolveError is a failed solve: non-convergence, crash or abort. In an
// optimization it fails the iteration, not the search.
type SolveError struct {
	Kind engine.Kind
	Err  error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solve failed (%s): %v", e.Kind, e.Err)
}

func (e *SolveError) Unwrap() error { return e.Err }

// RunError is returned by every failed run. Stage is the state the session
// was in when it failed.
type RunError struct {
	SessionID uuid.UUID
	Stage     State
	Kind      engine.Kind
	Retries   int
	Spec      antenna.DesignSpec
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("orchestrator: session %s failed in %s (%s, %d retries) for %.4g Hz: %v",
		e.SessionID, e.Stage, e.Kind, e.Retries, e.Spec.FrequencyHz, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
