package results

import (
	"math"
	"sort"
)

// MatchThresholdDB is the return loss defining impedance bandwidth.
const MatchThresholdDB = -10.0

// Merit holds the scalar figures of merit of a record. Zero bandwidth means
// the match never reaches MatchThresholdDB.
type Merit struct {
	ResonanceHz      float64 `json:"resonance_hz"`
	MinS11DB         float64 `json:"min_s11_db"`
	BandLowHz        float64 `json:"band_low_hz"`
	BandHighHz       float64 `json:"band_high_hz"`
	BandwidthHz      float64 `json:"bandwidth_hz"`
	PeakGainDBi      float64 `json:"peak_gain_dbi"`
	PeakThetaDeg     float64 `json:"peak_theta_deg"`
	PeakPhiDeg       float64 `json:"peak_phi_deg"`
	TargetHz         float64 `json:"target_hz"`
	S11AtTargetDB    float64 `json:"s11_at_target_db"`
	ResonanceErrorHz float64 `json:"resonance_error_hz"`
	// Input impedance at the resonance sample.
	InputResistanceOhm float64 `json:"input_resistance_ohm"`
	InputReactanceOhm  float64 `json:"input_reactance_ohm"`
}

// Evaluate computes figures of merit. targetHz defaults to the record's
// design frequency when zero.
func Evaluate(r *Record, targetHz float64) Merit {
	if targetHz == 0 {
		targetHz = r.Spec.FrequencyHz
	}
	var m Merit
	if r.Len() == 0 {
		return m
	}

	best := 0
	for i, db := range r.S11DB {
		if db < r.S11DB[best] {
			best = i
		}
	}
	m.ResonanceHz = r.Frequencies[best]
	m.MinS11DB = r.S11DB[best]
	if len(r.S) > best && len(r.S[best]) > 0 {
		z := r.Zin(best)
		m.InputResistanceOhm, m.InputReactanceOhm = real(z), imag(z)
	}

	if m.MinS11DB <= MatchThresholdDB {
		m.BandLowHz, m.BandHighHz = bandEdges(r.Frequencies, r.S11DB, best, MatchThresholdDB)
		m.BandwidthHz = m.BandHighHz - m.BandLowHz
	}

	m.PeakGainDBi = math.Inf(-1)
	for _, s := range r.Pattern {
		if s.GainDBi > m.PeakGainDBi {
			m.PeakGainDBi, m.PeakThetaDeg, m.PeakPhiDeg = s.GainDBi, s.ThetaDeg, s.PhiDeg
		}
	}
	if len(r.Pattern) == 0 {
		m.PeakGainDBi = 0
	}

	m.TargetHz = targetHz
	if targetHz > 0 {
		if db, ok := S11At(r, targetHz); ok {
			m.S11AtTargetDB = db
		} else {
			m.S11AtTargetDB = 0
		}
		m.ResonanceErrorHz = m.ResonanceHz - targetHz
	}
	return m
}

// bandEdges walks outward from the minimum until the curve crosses the
// threshold and interpolates the crossing. A band touching the sweep edge
// is clipped to it.
func bandEdges(f, db []float64, idx int, threshold float64) (lo, hi float64) {
	lo, hi = f[0], f[len(f)-1]
	for i := idx; i > 0; i-- {
		if db[i-1] > threshold {
			lo = crossing(f[i-1], db[i-1], f[i], db[i], threshold)
			break
		}
	}
	for i := idx; i < len(f)-1; i++ {
		if db[i+1] > threshold {
			hi = crossing(f[i], db[i], f[i+1], db[i+1], threshold)
			break
		}
	}
	return lo, hi
}

func crossing(f0, d0, f1, d1, threshold float64) float64 {
	if d1 == d0 {
		return f0
	}
	return f0 + (threshold-d0)*(f1-f0)/(d1-d0)
}

// S11At interpolates S11 in dB at frequency f. ok is false outside the sweep.
func S11At(r *Record, f float64) (db float64, ok bool) {
	n := r.Len()
	if n == 0 || f < r.Frequencies[0] || f > r.Frequencies[n-1] {
		return 0, false
	}
	i := sort.SearchFloat64s(r.Frequencies, f)
	if i < n && r.Frequencies[i] == f {
		return r.S11DB[i], true
	}
	return crossingValue(r.Frequencies[i-1], r.S11DB[i-1], r.Frequencies[i], r.S11DB[i], f), true
}

func crossingValue(f0, d0, f1, d1, f float64) float64 {
	return d0 + (d1-d0)*(f-f0)/(f1-f0)
}
