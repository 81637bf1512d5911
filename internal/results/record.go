// Package results turns raw engine solutions into immutable result records,
// computes figures of merit from them, and serializes them to Touchstone,
// CSV and JSON without loss.
package results

import (
	"time"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
)

// Record is an extracted solution. Treat it as immutable; accessors return
// views of the underlying slices.
type Record struct {
	Spec        antenna.DesignSpec `json:"spec"`
	Setup       string             `json:"setup"`
	Sweep       string             `json:"sweep"`
	SolvedAt    time.Time          `json:"solved_at"`
	Ports       int                `json:"ports"`
	ReferenceZ0 float64            `json:"reference_z0"`

	Frequencies []float64          `json:"frequencies"`
	S           [][]engine.Complex `json:"s"`
	S11DB       []float64          `json:"s11_db"`
	VSWR        []float64          `json:"vswr"`

	FarFieldHz float64                `json:"far_field_hz,omitempty"`
	Pattern    []engine.PatternSample `json:"pattern,omitempty"`

	Meta Meta `json:"meta"`
}

// Meta is provenance that does not change between extractions of the same solve.
type Meta struct {
	Engine        string `json:"engine"`
	EngineVersion string `json:"engine_version"`
	Passes        int    `json:"passes"`
}

// S11 returns the port-1 reflection at sample i.
func (r *Record) S11(i int) complex128 {
	return r.S[i][0].C128()
}

// Zin returns the port-1 input impedance at sample i against the record's
// reference impedance (50 Ω when unset), clamped to MaxImpedanceOhm.
func (r *Record) Zin(i int) complex128 {
	z0 := r.ReferenceZ0
	if z0 <= 0 {
		z0 = DefaultReferenceZ0
	}
	return storedImpedance(InputImpedance(r.S11(i), z0))
}

// Len is the number of frequency samples.
func (r *Record) Len() int { return len(r.Frequencies) }
