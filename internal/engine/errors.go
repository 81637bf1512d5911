package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind int

const (
	KindUnknown Kind = iota
	NotInstalled
	LicenseUnavailable
	VersionIncompatible
	SolveNonConvergent
	Connectivity
	GeometryRejected
	Aborted
	Crashed
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	NotInstalled:        "NotInstalled",
	LicenseUnavailable:  "LicenseUnavailable",
	VersionIncompatible: "VersionIncompatible",
	SolveNonConvergent:  "SolveNonConvergent",
	Connectivity:        "Connectivity",
	GeometryRejected:    "GeometryRejected",
	Aborted:             "Aborted",
	Crashed:             "Crashed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of String. Unknown names map to KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

var (
	ErrNoSolution    = errors.New("engine: no solution data for setup/sweep")
	ErrNotConfigured = errors.New("engine: solve requested before configure")
	ErrClosed        = errors.New("engine: handle closed")
	ErrUnknownEngine = errors.New("engine: unknown engine")
)

// Error is a classified failure reported by an engine.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("engine %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether retrying the failed operation may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case LicenseUnavailable, Connectivity:
		return true
	}
	return false
}
