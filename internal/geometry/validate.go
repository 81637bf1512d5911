package geometry

import (
	"fmt"
	"math"
)

// boundsTolerance absorbs float noise when comparing extents.
const boundsTolerance = 1e-9

// Validate checks that names are unique, every reference points at an
// earlier command, payloads match their kinds, and that the patch, ground
// and port lie within the substrate footprint.
func Validate(seq Sequence) error {
	created := make(map[string]int, len(seq))
	var substrate *Box

	for i, c := range seq {
		if c.Name == "" {
			return &GeometryError{Index: i, Command: string(c.Kind), Reason: "empty name", Err: ErrMalformed}
		}
		if prev, ok := created[c.Name]; ok {
			return &GeometryError{
				Index:   i,
				Command: c.Name,
				Reason:  fmt.Sprintf("name already used by command %d", prev),
				Err:     ErrNameCollision,
			}
		}
		if err := checkPayload(i, c); err != nil {
			return err
		}
		for _, ref := range c.References() {
			if _, ok := created[ref]; !ok {
				return &GeometryError{
					Index:   i,
					Command: c.Name,
					Reason:  fmt.Sprintf("references %q before it exists", ref),
					Err:     ErrUnknownReference,
				}
			}
		}

		switch c.Kind {
		case KindCreateSubstrate:
			b := *c.Box
			substrate = &b
		case KindCreateGroundPlane, KindCreatePatch:
			if err := checkSheetInside(i, c.Name, *c.Sheet, substrate); err != nil {
				return err
			}
		case KindCreatePort:
			if err := checkSheetInside(i, c.Name, c.Port.Sheet, substrate); err != nil {
				return err
			}
		}
		created[c.Name] = i
	}
	return nil
}

func checkPayload(i int, c Command) error {
	ok := false
	switch c.Kind {
	case KindCreateSubstrate:
		ok = c.Box != nil && c.Box.finite()
	case KindCreateGroundPlane, KindCreatePatch:
		ok = c.Sheet != nil && c.Sheet.finite()
	case KindCreatePort:
		ok = c.Port != nil && c.Port.ImpedanceOhm > 0 && c.Port.finite()
	case KindAssignBoundary:
		ok = c.Boundary != nil && len(c.Boundary.Targets) > 0
	case KindCreateRadiationRegion:
		ok = c.Region != nil && c.Region.Box.finite() && finite(c.Region.PaddingMM)
	}
	if !ok {
		return &GeometryError{Index: i, Command: c.Name, Reason: "missing, non-finite or invalid payload for " + string(c.Kind), Err: ErrMalformed}
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) finite() bool { return finite(v[0], v[1], v[2]) }

func (b Box) finite() bool {
	return b.Origin.finite() && b.Size.finite() && finite(b.Material.Permittivity, b.Material.LossTangent)
}

func (s Sheet) finite() bool { return s.Origin.finite() && finite(s.Size[0], s.Size[1]) }

func (p Port) finite() bool {
	return p.Sheet.finite() && p.LineStart.finite() && p.LineStop.finite() &&
		finite(p.ImpedanceOhm, p.ConductorThicknessMM)
}

type extent struct{ lo, hi Vec3 }

func boxExtent(b Box) extent {
	var e extent
	for k := 0; k < 3; k++ {
		a, z := b.Origin[k], b.Origin[k]+b.Size[k]
		e.lo[k], e.hi[k] = math.Min(a, z), math.Max(a, z)
	}
	return e
}

func sheetExtent(s Sheet) extent {
	var size Vec3
	switch s.Axis {
	case AxisZ:
		size = Vec3{s.Size[0], s.Size[1], 0}
	case AxisY:
		size = Vec3{s.Size[0], 0, s.Size[1]}
	default:
		size = Vec3{0, s.Size[0], s.Size[1]}
	}
	return boxExtent(Box{Origin: s.Origin, Size: size})
}

func checkSheetInside(i int, name string, s Sheet, substrate *Box) error {
	if substrate == nil {
		return &GeometryError{Index: i, Command: name, Reason: "created before the substrate", Err: ErrUnknownReference}
	}
	outer, inner := boxExtent(*substrate), sheetExtent(s)
	for k := 0; k < 3; k++ {
		if inner.lo[k] < outer.lo[k]-boundsTolerance || inner.hi[k] > outer.hi[k]+boundsTolerance {
			return &GeometryError{
				Index:   i,
				Command: name,
				Reason:  fmt.Sprintf("axis %d span [%.4g, %.4g] exceeds substrate [%.4g, %.4g]", k, inner.lo[k], inner.hi[k], outer.lo[k], outer.hi[k]),
				Err:     ErrOutOfBounds,
			}
		}
	}
	return nil
}
