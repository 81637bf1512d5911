package geometry

import (
	"math"

	"github.com/san-kum/patchsim/internal/antenna"
)

// Object names used by Build. Engines and reports look them up by name.
const (
	NameSubstrate = "Substrate"
	NameGround    = "Ground"
	NamePatch     = "Patch"
	NamePort      = "Port1"
	NameRegion    = "AirRegion"
)

// DefaultSubstrateMaterial is used when the DesignSpec does not name one.
const DefaultSubstrateMaterial = "substrate"

type options struct {
	lowestHz float64
}

// Option adjusts Build.
type Option func(*options)

// WithLowestFrequency sizes the radiation region for the lowest simulated
// frequency instead of the design frequency.
func WithLowestFrequency(hz float64) Option {
	return func(o *options) {
		if hz > 0 {
			o.lowestHz = hz
		}
	}
}

// Build lays out substrate, ground, patch, port and air region for p.
//
// The substrate occupies z ∈ [-h, 0] centred on the origin, the ground sheet
// sits at z = -h and the patch at z = 0 with its length along y. The port is
// a vertical sheet in the XZ plane at the inset depth measured from the
// radiating edge at y = -L/2. Parameters that fail their own Validate are
// returned as the antenna error without building anything.
func Build(p antenna.GeometricParameters, opts ...Option) (Sequence, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	o := options{lowestHz: p.Spec.FrequencyHz}
	for _, opt := range opts {
		opt(&o)
	}

	h := p.Spec.ThicknessMM
	gw, gl := p.GroundWidthMM, p.GroundLengthMM
	pw, pl := p.PatchWidthMM, p.PatchLengthMM

	material := p.Spec.SubstrateMaterial
	if material == "" {
		material = DefaultSubstrateMaterial
	}

	portY := -pl/2 + p.FeedOffsetMM
	pad := antenna.SpeedOfLight / o.lowestHz * 1e3 / 4
	pad = math.Max(pad, 0)

	seq := Sequence{
		{
			Kind: KindCreateSubstrate,
			Name: NameSubstrate,
			Box: &Box{
				Origin: Vec3{-gw / 2, -gl / 2, 0},
				Size:   Vec3{gw, gl, -h},
				Material: Material{
					Name:         material,
					Permittivity: p.Spec.Permittivity,
					LossTangent:  p.Spec.LossTangent,
				},
			},
		},
		{
			Kind:  KindCreateGroundPlane,
			Name:  NameGround,
			Sheet: &Sheet{Origin: Vec3{-gw / 2, -gl / 2, -h}, Size: [2]float64{gw, gl}, Axis: AxisZ},
		},
		{
			Kind:     KindAssignBoundary,
			Name:     "PerfE_" + NameGround,
			Boundary: &Boundary{Type: BoundaryPerfectE, Targets: []string{NameGround}},
		},
		{
			Kind:  KindCreatePatch,
			Name:  NamePatch,
			Sheet: &Sheet{Origin: Vec3{-pw / 2, -pl / 2, 0}, Size: [2]float64{pw, pl}, Axis: AxisZ},
		},
		{
			Kind:     KindAssignBoundary,
			Name:     "PerfE_" + NamePatch,
			Boundary: &Boundary{Type: BoundaryPerfectE, Targets: []string{NamePatch}},
		},
		{
			Kind: KindCreatePort,
			Name: NamePort,
			Port: &Port{
				Sheet:                Sheet{Origin: Vec3{-p.FeedWidthMM / 2, portY, -h}, Size: [2]float64{p.FeedWidthMM, h}, Axis: AxisY},
				ImpedanceOhm:         p.Spec.ImpedanceOhm,
				LineStart:            Vec3{0, portY, -h},
				LineStop:             Vec3{0, portY, 0},
				ConductorThicknessMM: p.Spec.ConductorThicknessMM,
			},
		},
		{
			Kind: KindCreateRadiationRegion,
			Name: NameRegion,
			Region: &Region{
				Box: Box{
					Origin:   Vec3{-gw/2 - pad, -gl/2 - pad, -h - pad},
					Size:     Vec3{gw + 2*pad, gl + 2*pad, h + 2*pad},
					Material: Material{Name: "vacuum", Permittivity: 1},
				},
				PaddingMM: pad,
			},
		},
		{
			Kind:     KindAssignBoundary,
			Name:     "Rad_" + NameRegion,
			Boundary: &Boundary{Type: BoundaryRadiation, Targets: []string{NameRegion}},
		},
	}

	if err := Validate(seq); err != nil {
		return nil, err
	}
	return seq, nil
}
