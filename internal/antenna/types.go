package antenna

import (
	"math"
)

const (
	// SpeedOfLight in metres per second.
	SpeedOfLight = 299792458.0

	DefaultConductorThicknessMM = 0.035
	DefaultImpedanceOhm         = 50.0

	// GroundMarginFactor is the ground plane margin around the patch, in substrate heights.
	GroundMarginFactor = 6.0
)

// DesignSpec is the physical design intent. It is a value type; copies are
// independent and nothing in this module mutates a spec after validation.
type DesignSpec struct {
	FrequencyHz          float64 `json:"frequency_hz" yaml:"frequency_hz"`
	Permittivity         float64 `json:"permittivity" yaml:"permittivity"`
	LossTangent          float64 `json:"loss_tangent" yaml:"loss_tangent"`
	ThicknessMM          float64 `json:"thickness_mm" yaml:"thickness_mm"`
	ImpedanceOhm         float64 `json:"impedance_ohm" yaml:"impedance_ohm"`
	ConductorThicknessMM float64 `json:"conductor_thickness_mm" yaml:"conductor_thickness_mm"`
	SubstrateMaterial    string  `json:"substrate_material,omitempty" yaml:"substrate_material,omitempty"`
}

// NewDesignSpec builds a validated spec with FR4-like defaults for the
// loss tangent and a 35 µm conductor.
func NewDesignSpec(frequencyHz, permittivity, thicknessMM, impedanceOhm float64) (DesignSpec, error) {
	spec := DesignSpec{
		FrequencyHz:          frequencyHz,
		Permittivity:         permittivity,
		LossTangent:          0.02,
		ThicknessMM:          thicknessMM,
		ImpedanceOhm:         impedanceOhm,
		ConductorThicknessMM: DefaultConductorThicknessMM,
	}
	if err := spec.Validate(); err != nil {
		return DesignSpec{}, err
	}
	return spec, nil
}

// Validate checks the invariants every synthesis relies on.
func (s DesignSpec) Validate() error {
	switch {
	case !finite(s.FrequencyHz) || s.FrequencyHz <= 0:
		return invalid("frequency_hz", s.FrequencyHz, "must be > 0")
	case !finite(s.Permittivity) || s.Permittivity < 1:
		return invalid("permittivity", s.Permittivity, "must be >= 1")
	case !finite(s.ThicknessMM) || s.ThicknessMM <= 0:
		return invalid("thickness_mm", s.ThicknessMM, "must be > 0")
	case !finite(s.LossTangent) || s.LossTangent < 0:
		return invalid("loss_tangent", s.LossTangent, "must be >= 0")
	case !finite(s.ImpedanceOhm) || s.ImpedanceOhm <= 0:
		return invalid("impedance_ohm", s.ImpedanceOhm, "must be > 0")
	case !finite(s.ConductorThicknessMM) || s.ConductorThicknessMM < 0:
		return invalid("conductor_thickness_mm", s.ConductorThicknessMM, "must be >= 0")
	}
	return nil
}

// WavelengthMM is the free-space wavelength at the design frequency.
func (s DesignSpec) WavelengthMM() float64 {
	return SpeedOfLight / s.FrequencyHz * 1e3
}

// GeometricParameters are the synthesized dimensions, all in millimetres.
// The originating spec is carried along so downstream stages never need a
// second source of truth for materials or port impedance.
type GeometricParameters struct {
	PatchWidthMM   float64 `json:"patch_width_mm" yaml:"patch_width_mm"`
	PatchLengthMM  float64 `json:"patch_length_mm" yaml:"patch_length_mm"`
	GroundWidthMM  float64 `json:"ground_width_mm" yaml:"ground_width_mm"`
	GroundLengthMM float64 `json:"ground_length_mm" yaml:"ground_length_mm"`
	FeedOffsetMM   float64 `json:"feed_offset_mm" yaml:"feed_offset_mm"`
	FeedWidthMM    float64 `json:"feed_width_mm" yaml:"feed_width_mm"`

	Spec   DesignSpec   `json:"spec" yaml:"spec"`
	Report DesignReport `json:"report" yaml:"report"`
}

// DesignReport holds intermediate quantities worth showing to a designer.
type DesignReport struct {
	WavelengthMM          float64 `json:"wavelength_mm" yaml:"wavelength_mm"`
	EffectivePermittivity float64 `json:"effective_permittivity" yaml:"effective_permittivity"`
	FringeExtensionMM     float64 `json:"fringe_extension_mm" yaml:"fringe_extension_mm"`
	EffectiveLengthMM     float64 `json:"effective_length_mm" yaml:"effective_length_mm"`
	GuidedWavelengthMM    float64 `json:"guided_wavelength_mm" yaml:"guided_wavelength_mm"`
	QuarterWaveMM         float64 `json:"quarter_wave_mm" yaml:"quarter_wave_mm"`
	EdgeResistanceOhm     float64 `json:"edge_resistance_ohm" yaml:"edge_resistance_ohm"`
	FeedModel             string  `json:"feed_model" yaml:"feed_model"`
}

// Validate checks the geometric invariants independent of how the
// parameters were produced (for instance when loaded from a file).
func (p GeometricParameters) Validate() error {
	switch {
	case !finite(p.PatchWidthMM) || p.PatchWidthMM <= 0:
		return degenerate("patch_width_mm", p.PatchWidthMM)
	case !finite(p.PatchLengthMM) || p.PatchLengthMM <= 0:
		return degenerate("patch_length_mm", p.PatchLengthMM)
	case !finite(p.FeedWidthMM) || p.FeedWidthMM <= 0:
		return degenerate("feed_width_mm", p.FeedWidthMM)
	case !(p.GroundLengthMM > p.PatchLengthMM) || math.IsInf(p.GroundLengthMM, 0):
		return invalid("ground_length_mm", p.GroundLengthMM, "must exceed the patch length")
	case !(p.GroundWidthMM > p.PatchWidthMM) || math.IsInf(p.GroundWidthMM, 0):
		return invalid("ground_width_mm", p.GroundWidthMM, "must exceed the patch width")
	case !finite(p.FeedOffsetMM) || p.FeedOffsetMM <= 0 || p.FeedOffsetMM >= p.PatchLengthMM:
		return invalid("feed_offset_mm", p.FeedOffsetMM, "must lie strictly inside the patch length")
	case p.FeedWidthMM >= p.PatchWidthMM:
		return invalid("feed_width_mm", p.FeedWidthMM, "must be narrower than the patch")
	}
	return p.Spec.Validate()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
