package antenna

import "math"

const (
	// Inset depth is kept clear of the radiating edge and of the patch centre.
	minFeedFraction = 0.02
	maxFeedFraction = 0.48

	fitMinPermittivity = 2.0
	fitMaxPermittivity = 10.0
	fitReferenceOhm    = 50.0
)

// Ramesh & Yip polynomial, highest power first. It gives the 50 Ω inset
// depth normalised to L/2 for 2 <= εr <= 10.
var insetFitCoefficients = [...]float64{0.001699, 0.13761, -6.1783, 93.187, -682.69, 2561.9, -4043, 6697}

func insetFit50(er float64) float64 {
	v := 0.0
	for _, c := range insetFitCoefficients {
		v = v*er + c
	}
	return 1e-4 * v
}

// edgeSlotConductance is the closed-form single-slot conductance for W < λ0.
func edgeSlotConductance(wMM, hMM, lambdaMM float64) float64 {
	k0h := 2 * math.Pi * hMM / lambdaMM
	if wMM < lambdaMM {
		return wMM / (120 * lambdaMM) * (1 - k0h*k0h/24)
	}
	return wMM / (120 * lambdaMM)
}

// feedOffset returns the inset depth from the radiating edge for the target
// impedance, the edge resistance it assumed, and which model produced it.
//
// Inside the fit range the edge resistance is inferred from the 50 Ω inset
// through Rin(y) = Redge·cos²(πy/L); outside it the closed-form slot
// conductance is used directly. Either way the target is then mapped back
// through the same cos² law.
func feedOffset(spec DesignSpec, widthMM, lengthMM float64) (offset, edgeOhm float64, model string, err error) {
	er := spec.Permittivity
	if er >= fitMinPermittivity && er <= fitMaxPermittivity {
		frac := insetFit50(er) / 2 // y50 / L
		c := math.Cos(math.Pi * frac)
		edgeOhm = fitReferenceOhm / (c * c)
		model = "ramesh-yip"
	} else {
		g1 := edgeSlotConductance(widthMM, spec.ThicknessMM, spec.WavelengthMM())
		edgeOhm = 1 / (2 * g1)
		model = "slot-conductance"
	}
	if !finite(edgeOhm) || edgeOhm <= 0 {
		return 0, 0, model, degenerate("edge_resistance_ohm", edgeOhm)
	}

	ratio := spec.ImpedanceOhm / edgeOhm
	frac := minFeedFraction
	if ratio < 1 {
		frac = math.Acos(math.Sqrt(ratio)) / math.Pi
	}
	frac = math.Min(math.Max(frac, minFeedFraction), maxFeedFraction)
	return frac * lengthMM, edgeOhm, model, nil
}
