package results

import (
	"math"
	"math/cmplx"
)

const (
	// FloorDB and MaxVSWR keep stored values finite for a perfect match and
	// a total reflection respectively.
	FloorDB = -300.0
	MaxVSWR = 1e12
	// MaxImpedanceOhm bounds each component of a stored input impedance.
	MaxImpedanceOhm = 1e12

	// DefaultReferenceZ0 is the port reference when a source omits one.
	DefaultReferenceZ0 = 50.0
)

// MagnitudeDB is 20·log10|s|.
func MagnitudeDB(s complex128) float64 {
	return 20 * math.Log10(cmplx.Abs(s))
}

// VSWR is (1+|Γ|)/(1−|Γ|). It is +Inf for |Γ| ≥ 1.
func VSWR(gamma float64) float64 {
	if gamma >= 1 {
		return math.Inf(1)
	}
	return (1 + gamma) / (1 - gamma)
}

// MagnitudeFromDB inverts MagnitudeDB.
func MagnitudeFromDB(db float64) float64 {
	return math.Pow(10, db/20)
}

// MagnitudeFromVSWR inverts VSWR.
func MagnitudeFromVSWR(v float64) float64 {
	if math.IsInf(v, 1) {
		return 1
	}
	return (v - 1) / (v + 1)
}

// InputImpedance is Z0·(1+Γ)/(1−Γ), the impedance seen at a port with
// reflection gamma against reference z0. Total reflection in phase with the
// reference (Γ = 1) is an open circuit and returns cmplx.Inf().
func InputImpedance(gamma complex128, z0 float64) complex128 {
	if gamma == 1 {
		return cmplx.Inf()
	}
	return complex(z0, 0) * (1 + gamma) / (1 - gamma)
}

// ReflectionFromImpedance inverts InputImpedance.
func ReflectionFromImpedance(z complex128, z0 float64) complex128 {
	if cmplx.IsInf(z) {
		return 1
	}
	zr := complex(z0, 0)
	return (z - zr) / (z + zr)
}

func storedImpedance(z complex128) complex128 {
	clamp := func(v float64) float64 {
		if math.IsNaN(v) {
			return MaxImpedanceOhm
		}
		return math.Max(-MaxImpedanceOhm, math.Min(v, MaxImpedanceOhm))
	}
	if cmplx.IsInf(z) {
		return complex(MaxImpedanceOhm, 0)
	}
	return complex(clamp(real(z)), clamp(imag(z)))
}

func storedDB(s complex128) float64 {
	return math.Max(MagnitudeDB(s), FloorDB)
}

func storedVSWR(s complex128) float64 {
	return math.Min(VSWR(cmplx.Abs(s)), MaxVSWR)
}
