// Package engine defines the contract with an external full-wave EM solver:
// a versioned, licence-gated process that accepts geometry, solves a
// configured setup and sweep, and exposes raw solution data.
package engine

import (
	"context"
	"time"

	"github.com/san-kum/patchsim/internal/geometry"
)

// Engine launches sessions. Each successful Open consumes one licence seat
// until the returned Handle is closed.
type Engine interface {
	Name() string
	Open(ctx context.Context) (Handle, error)
}

// Handle is a live, single-writer engine session. It is not safe for
// concurrent use except for Abort, which may be called from another
// goroutine while Solve is blocked.
type Handle interface {
	Version() string
	Apply(ctx context.Context, seq geometry.Sequence) error
	Configure(ctx context.Context, setup SetupConfig, sweep SweepConfig) error
	// Solve blocks until the setup has been solved over the sweep. When ctx
	// is cancelled the engine aborts and discards partial state.
	Solve(ctx context.Context) error
	Abort() error
	SParameters(ctx context.Context, setup, sweep string) (SParameters, error)
	FarField(ctx context.Context, setup string, frequencyHz float64, grid AngularGrid) (FarField, error)
	Close() error
}

// Complex is a JSON-friendly complex sample.
type Complex struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

func FromComplex(c complex128) Complex { return Complex{Re: real(c), Im: imag(c)} }

func (c Complex) C128() complex128 { return complex(c.Re, c.Im) }

// SParameters is the raw network solution. Matrices[i] is the row-major
// Ports×Ports scattering matrix at Frequencies[i].
type SParameters struct {
	Setup       string      `json:"setup"`
	Sweep       string      `json:"sweep"`
	Ports       int         `json:"ports"`
	ReferenceZ0 float64     `json:"reference_z0"`
	Frequencies []float64   `json:"frequencies"`
	Matrices    [][]Complex `json:"matrices"`
	SolvedAt    time.Time   `json:"solved_at"`
	Passes      int         `json:"passes"`
}

// PatternSample is one far-field direction. Angles in degrees, gains in dBi.
type PatternSample struct {
	ThetaDeg       float64 `json:"theta_deg"`
	PhiDeg         float64 `json:"phi_deg"`
	GainDBi        float64 `json:"gain_dbi"`
	DirectivityDBi float64 `json:"directivity_dbi"`
}

// FarField holds pattern samples over an angular grid at one frequency.
type FarField struct {
	Setup       string          `json:"setup"`
	FrequencyHz float64         `json:"frequency_hz"`
	Samples     []PatternSample `json:"samples"`
}
