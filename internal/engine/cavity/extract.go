package cavity

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/patchsim/internal/geometry"
)

var errIncomplete = errors.New("cavity: sequence does not describe a fed patch over ground")

// patchFromSequence reads the resonator from a validated sequence.
func patchFromSequence(seq geometry.Sequence) (patch, error) {
	sub := seq.OfKind(geometry.KindCreateSubstrate)
	pat := seq.OfKind(geometry.KindCreatePatch)
	gnd := seq.OfKind(geometry.KindCreateGroundPlane)
	port := seq.OfKind(geometry.KindCreatePort)
	reg := seq.OfKind(geometry.KindCreateRadiationRegion)
	if len(sub) != 1 || len(pat) != 1 || len(gnd) != 1 || len(port) != 1 || len(reg) != 1 {
		return patch{}, fmt.Errorf("%w: need one substrate, ground, patch, port and region", errIncomplete)
	}
	for _, name := range []string{pat[0].Name, gnd[0].Name} {
		if bt, ok := seq.BoundaryFor(name); !ok || bt != geometry.BoundaryPerfectE {
			return patch{}, fmt.Errorf("%w: %s is not a perfect conductor", errIncomplete, name)
		}
	}
	if bt, ok := seq.BoundaryFor(reg[0].Name); !ok || bt != geometry.BoundaryRadiation {
		return patch{}, fmt.Errorf("%w: region has no radiation boundary", errIncomplete)
	}

	box := sub[0].Box
	ps := pat[0].Sheet
	pp := port[0].Port
	if ps.Axis != geometry.AxisZ {
		return patch{}, fmt.Errorf("%w: patch must lie in the XY plane", errIncomplete)
	}

	const mm = 1e-3
	h := math.Abs(box.Size[2])
	w, l := math.Abs(ps.Size[0]), math.Abs(ps.Size[1])
	inset := pp.Sheet.Origin[1] - math.Min(ps.Origin[1], ps.Origin[1]+ps.Size[1])
	if inset <= 0 || inset >= l {
		return patch{}, fmt.Errorf("%w: port at %.4g mm is outside the patch length", errIncomplete, inset)
	}
	if box.Material.Permittivity < 1 {
		return patch{}, fmt.Errorf("%w: substrate permittivity %.4g", errIncomplete, box.Material.Permittivity)
	}

	return patch{
		w:     w * mm,
		l:     l * mm,
		h:     h * mm,
		t:     pp.ConductorThicknessMM * mm,
		er:    box.Material.Permittivity,
		tanD:  box.Material.LossTangent,
		inset: inset * mm,
		z0:    pp.ImpedanceOhm,
	}, nil
}
