package antenna

import (
	"fmt"
	"math"
)

// LineEffectivePermittivity is the quasi-static effective permittivity of a
// microstrip line with width-to-height ratio wh.
func LineEffectivePermittivity(er, wh float64) float64 {
	return (er+1)/2 + (er-1)/2*math.Pow(1+12/wh, -0.5)
}

// FringeExtension is the Hammerstad open-end length extension ΔL of a
// strip of width w over height h. Units follow h.
func FringeExtension(eeff, w, h float64) float64 {
	wh := w / h
	return 0.412 * h * ((eeff + 0.3) * (wh + 0.264)) / ((eeff - 0.258) * (wh + 0.8))
}

// CharacteristicImpedance returns Z0 of a microstrip line (Hammerstad/Wheeler).
func CharacteristicImpedance(er, wh float64) float64 {
	ee := LineEffectivePermittivity(er, wh)
	if wh <= 1 {
		return 60 / math.Sqrt(ee) * math.Log(8/wh+0.25*wh)
	}
	return 120 * math.Pi / (math.Sqrt(ee) * (wh + 1.393 + 0.667*math.Log(wh+1.444)))
}

// Bisection bracket on w/h for LineWidthForImpedance.
const (
	MinLineWH = 0.01
	MaxLineWH = 50.0
)

// LineWidthForImpedance finds the strip width giving z0 on a substrate of
// height h by bisection on w/h. Z0 falls monotonically with width, so a z0
// outside [Z0(MaxLineWH), Z0(MinLineWH)] has no solution and is reported as
// an InvalidSpecError on impedance_ohm.
func LineWidthForImpedance(er, hMM, z0 float64) (float64, error) {
	lo, hi := MinLineWH, MaxLineWH
	zMax, zMin := CharacteristicImpedance(er, lo), CharacteristicImpedance(er, hi)
	if !(z0 <= zMax && z0 >= zMin) {
		return 0, invalid("impedance_ohm", z0,
			fmt.Sprintf("microstrip on er=%g realises only %.3g to %.3g ohm", er, zMin, zMax))
	}
	mid := (lo + hi) / 2
	for i := 0; i < 80; i++ {
		mid = (lo + hi) / 2
		z := CharacteristicImpedance(er, mid)
		if math.Abs(z-z0) < 1e-6 {
			break
		}
		if z > z0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return mid * hMM, nil
}

// QuarterWaveLength is λg/4 of a line of width w at frequency f.
func QuarterWaveLength(frequencyHz, er, wMM, hMM float64) float64 {
	wh := math.Max(wMM/hMM, 1e-6)
	ee := LineEffectivePermittivity(er, wh)
	lambdaG := SpeedOfLight / frequencyHz * 1e3 / math.Sqrt(ee)
	return lambdaG / 4
}
