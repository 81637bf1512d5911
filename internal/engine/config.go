package engine

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultMaxPasses = 10
	DefaultMaxDeltaS = 0.02
	DefaultMinPasses = 1
)

// SweepType selects how the engine populates the sweep.
type SweepType string

const (
	SweepDiscrete      SweepType = "Discrete"
	SweepInterpolating SweepType = "Interpolating"
	SweepFast          SweepType = "Fast"
)

var ErrInvalidConfig = errors.New("engine: invalid configuration")

func configError(field string, v any, reason string) error {
	return fmt.Errorf("%w: %s=%v %s", ErrInvalidConfig, field, v, reason)
}

// SetupConfig is the adaptive solution setup.
type SetupConfig struct {
	Name        string  `json:"name" yaml:"name"`
	FrequencyHz float64 `json:"frequency_hz" yaml:"frequency_hz"`
	MaxPasses   int     `json:"max_passes" yaml:"max_passes"`
	MinPasses   int     `json:"min_passes" yaml:"min_passes"`
	MaxDeltaS   float64 `json:"max_delta_s" yaml:"max_delta_s"`
}

// DefaultSetup returns a setup adapting at the given frequency.
func DefaultSetup(frequencyHz float64) SetupConfig {
	return SetupConfig{
		Name:        "Setup1",
		FrequencyHz: frequencyHz,
		MaxPasses:   DefaultMaxPasses,
		MinPasses:   DefaultMinPasses,
		MaxDeltaS:   DefaultMaxDeltaS,
	}
}

func (s SetupConfig) Validate() error {
	switch {
	case s.Name == "":
		return configError("setup.name", s.Name, "must be set")
	case !(s.FrequencyHz > 0) || math.IsInf(s.FrequencyHz, 0):
		return configError("setup.frequency_hz", s.FrequencyHz, "must be > 0")
	case s.MaxPasses < 1:
		return configError("setup.max_passes", s.MaxPasses, "must be >= 1")
	case s.MinPasses < 0 || s.MinPasses > s.MaxPasses:
		return configError("setup.min_passes", s.MinPasses, "must be within [0, max_passes]")
	case !(s.MaxDeltaS > 0):
		return configError("setup.max_delta_s", s.MaxDeltaS, "must be > 0")
	}
	return nil
}

// SweepConfig is a frequency sweep attached to a setup.
type SweepConfig struct {
	Name    string    `json:"name" yaml:"name"`
	StartHz float64   `json:"start_hz" yaml:"start_hz"`
	StopHz  float64   `json:"stop_hz" yaml:"stop_hz"`
	Points  int       `json:"points" yaml:"points"`
	Type    SweepType `json:"type" yaml:"type"`
}

func (s SweepConfig) Validate() error {
	switch {
	case s.Name == "":
		return configError("sweep.name", s.Name, "must be set")
	case !(s.StartHz > 0):
		return configError("sweep.start_hz", s.StartHz, "must be > 0")
	case !(s.StartHz < s.StopHz) || math.IsInf(s.StopHz, 0):
		return configError("sweep.stop_hz", s.StopHz, "must exceed start")
	case s.Points < 2:
		return configError("sweep.points", s.Points, "must be >= 2")
	}
	switch s.Type {
	case SweepDiscrete, SweepInterpolating, SweepFast:
	default:
		return configError("sweep.type", s.Type, "must be Discrete, Interpolating or Fast")
	}
	return nil
}

// Frequencies returns the linearly spaced sweep points, endpoints included.
func (s SweepConfig) Frequencies() []float64 {
	out := make([]float64, s.Points)
	step := (s.StopHz - s.StartHz) / float64(s.Points-1)
	for i := range out {
		out[i] = s.StartHz + float64(i)*step
	}
	out[len(out)-1] = s.StopHz
	return out
}

// AngularGrid is the far-field sampling grid in degrees.
type AngularGrid struct {
	ThetaStart float64   `json:"theta_start" yaml:"theta_start"`
	ThetaStop  float64   `json:"theta_stop" yaml:"theta_stop"`
	ThetaStep  float64   `json:"theta_step" yaml:"theta_step"`
	PhiValues  []float64 `json:"phi_values" yaml:"phi_values"`
}

// DefaultGrid is the E-plane and H-plane cut at 2° resolution.
func DefaultGrid() AngularGrid {
	return AngularGrid{ThetaStart: -180, ThetaStop: 180, ThetaStep: 2, PhiValues: []float64{0, 90}}
}

func (g AngularGrid) Validate() error {
	switch {
	case !(g.ThetaStep > 0):
		return configError("grid.theta_step", g.ThetaStep, "must be > 0")
	case g.ThetaStop < g.ThetaStart:
		return configError("grid.theta_stop", g.ThetaStop, "must be >= theta_start")
	case len(g.PhiValues) == 0:
		return configError("grid.phi_values", g.PhiValues, "must not be empty")
	}
	return nil
}

// Thetas enumerates the theta samples, inclusive of ThetaStop when it falls on the step.
func (g AngularGrid) Thetas() []float64 {
	n := int(math.Floor((g.ThetaStop-g.ThetaStart)/g.ThetaStep+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = g.ThetaStart + float64(i)*g.ThetaStep
	}
	return out
}
