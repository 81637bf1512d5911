package cavity

import (
	"math"

	"github.com/san-kum/patchsim/internal/antenna"
)

const (
	mu0         = 4e-7 * math.Pi
	copperSigma = 5.8e7
	// backLobe is the power ratio assigned below the ground plane.
	backLobe = 0.01
	// patternFloor keeps nulls finite in dB.
	patternFloor = 1e-6
)

// patch is the resonator extracted from an applied command sequence.
// Lengths in metres.
type patch struct {
	w, l, h, t float64
	er, tanD   float64
	inset      float64
	z0         float64
}

// model holds the frequency-independent quantities of a solved patch.
type model struct {
	p      patch
	eeff   float64
	dl     float64
	fr     float64
	qrad   float64
	qt     float64
	rInput float64
}

func newModel(p patch) model {
	we := p.w
	if p.t > 0 {
		we += p.t / math.Pi * (1 + math.Log(2*p.h/p.t))
	}
	eeff := antenna.LineEffectivePermittivity(p.er, we/p.h)
	dl := antenna.FringeExtension(eeff, we, p.h)
	fr := antenna.SpeedOfLight / (2 * (p.l + 2*dl) * math.Sqrt(eeff))

	lambda0 := antenna.SpeedOfLight / fr
	k0 := 2 * math.Pi / lambda0

	c1 := 1 - 1/p.er + 0.4/(p.er*p.er)
	qrad := 3 * p.er / (16 * c1) * (lambda0 / p.h) * (p.l / p.w)
	qc := p.h * math.Sqrt(math.Pi*fr*mu0*copperSigma)
	qt := 1 / (1/qrad + p.tanD + 1/qc)

	g1, g12 := slotConductances(k0, p.w, p.l)
	redge := 1 / (2 * (g1 + g12)) * qt / qrad
	c := math.Cos(math.Pi * p.inset / p.l)

	return model{
		p:      p,
		eeff:   eeff,
		dl:     dl,
		fr:     fr,
		qrad:   qrad,
		qt:     qt,
		rInput: redge * c * c,
	}
}

// impedance is the parallel-RLC input impedance at the inset feed.
func (m model) impedance(f float64) complex128 {
	x := m.qt * (f/m.fr - m.fr/f)
	return complex(m.rInput, 0) / complex(1, x)
}

// reflection is S11 referenced to the port impedance.
func (m model) reflection(f float64) complex128 {
	z := m.impedance(f)
	z0 := complex(m.p.z0, 0)
	return (z - z0) / (z + z0)
}

func (m model) efficiency() float64 {
	return m.qt / m.qrad
}

// slotConductances integrates the self conductance of one radiating slot
// and the mutual conductance between the two slots.
func slotConductances(k0, w, l float64) (g1, g12 float64) {
	const n = 400
	step := math.Pi / n
	a := k0 * w / 2
	var s1, s12 float64
	for i := 0; i <= n; i++ {
		th := float64(i) * step
		ct, st := math.Cos(th), math.Sin(th)
		var f float64
		if math.Abs(ct) < 1e-12 {
			f = a * a
		} else {
			v := math.Sin(a*ct) / ct
			f = v * v
		}
		f *= st * st * st
		wgt := simpsonWeight(i, n)
		s1 += wgt * f
		s12 += wgt * f * math.J0(k0*l*st)
	}
	scale := step / 3 / (120 * math.Pi * math.Pi)
	return s1 * scale, s12 * scale
}

func simpsonWeight(i, n int) float64 {
	switch {
	case i == 0 || i == n:
		return 1
	case i%2 == 1:
		return 4
	default:
		return 2
	}
}

// pattern is the unnormalised radiated power density of the two-slot model.
// The patch length runs along y; theta is measured from broadside.
func (m model) pattern(f, theta, phi float64) float64 {
	if theta < 0 {
		theta, phi = -theta, phi+math.Pi
	}
	back := false
	if theta > math.Pi/2 {
		theta = math.Pi - theta
		back = true
	}
	k0 := 2 * math.Pi * f / antenna.SpeedOfLight
	st, ct := math.Sin(theta), math.Cos(theta)
	sp, cp := math.Sin(phi), math.Cos(phi)

	leff := m.p.l + 2*m.dl
	u := k0 * m.p.w / 2 * st * cp
	af := math.Cos(k0 * leff / 2 * st * sp)
	if math.Abs(u) > 1e-12 {
		af *= math.Sin(u) / u
	}
	pol := sp*sp + ct*ct*cp*cp
	p := pol * af * af
	if back {
		p *= backLobe
	}
	return math.Max(p, patternFloor)
}

// radiatedPower integrates the pattern over the sphere.
func (m model) radiatedPower(f float64) float64 {
	const nt, np = 90, 180
	dt, dp := math.Pi/nt, 2*math.Pi/np
	var sum float64
	for i := 0; i < nt; i++ {
		th := (float64(i) + 0.5) * dt
		st := math.Sin(th)
		for j := 0; j < np; j++ {
			ph := (float64(j) + 0.5) * dp
			sum += m.pattern(f, th, ph) * st
		}
	}
	return sum * dt * dp
}

func toDB(v float64) float64 {
	return 10 * math.Log10(v)
}
