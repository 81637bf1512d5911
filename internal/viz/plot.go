package viz

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/results"
)

// PlotOptions sizes a plot in terminal cells.
type PlotOptions struct {
	Width  int
	Height int
}

func (o PlotOptions) withDefaults() PlotOptions {
	if o.Width <= 0 {
		o.Width = 80
	}
	if o.Height <= 0 {
		o.Height = 12
	}
	return o
}

// downsample picks n evenly spaced samples, keeping both endpoints.
func downsample(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = xs[i*(len(xs)-1)/(n-1)]
	}
	return out
}

func ghz(hz float64) string { return fmt.Sprintf("%.3f GHz", hz/1e9) }

// S11Plot draws return loss in dB across the sweep.
func S11Plot(r *results.Record, opts PlotOptions) string {
	opts = opts.withDefaults()
	if r.Len() == 0 {
		return "no data"
	}
	caption := fmt.Sprintf("S11 (dB), %s to %s", ghz(r.Frequencies[0]), ghz(r.Frequencies[r.Len()-1]))
	return asciigraph.Plot(downsample(r.S11DB, opts.Width),
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Precision(1),
		asciigraph.UpperBound(0),
		asciigraph.Caption(caption),
	)
}

// VSWRPlot draws VSWR clipped to ceiling so the matched band stays legible.
func VSWRPlot(r *results.Record, ceiling float64, opts PlotOptions) string {
	opts = opts.withDefaults()
	if r.Len() == 0 {
		return "no data"
	}
	if ceiling <= 1 {
		ceiling = 10
	}
	vals := make([]float64, r.Len())
	for i, v := range r.VSWR {
		vals[i] = math.Min(v, ceiling)
	}
	return asciigraph.Plot(downsample(vals, opts.Width),
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Precision(2),
		asciigraph.LowerBound(1),
		asciigraph.Caption(fmt.Sprintf("VSWR (clipped at %g)", ceiling)),
	)
}

// ImpedancePlot draws |Zin| and Re(Zin) in ohms across the sweep, clipped
// to ceiling so the resonance region stays legible.
func ImpedancePlot(r *results.Record, ceiling float64, opts PlotOptions) string {
	opts = opts.withDefaults()
	if r.Len() == 0 || len(r.S) != r.Len() {
		return "no data"
	}
	if ceiling <= 0 {
		ceiling = 500
	}
	mag := make([]float64, r.Len())
	res := make([]float64, r.Len())
	for i := range r.Frequencies {
		z := r.Zin(i)
		mag[i] = math.Min(cmplx.Abs(z), ceiling)
		res[i] = math.Max(math.Min(real(z), ceiling), 0)
	}
	caption := fmt.Sprintf("|Zin| and Re(Zin) (Ω, clipped at %g), %s to %s", ceiling, ghz(r.Frequencies[0]), ghz(r.Frequencies[r.Len()-1]))
	return asciigraph.PlotMany([][]float64{downsample(mag, opts.Width), downsample(res, opts.Width)},
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Precision(1),
		asciigraph.LowerBound(0),
		asciigraph.Caption(caption),
	)
}

// PatternPlot draws one gain curve per phi cut against theta.
func PatternPlot(r *results.Record, opts PlotOptions) string {
	opts = opts.withDefaults()
	if len(r.Pattern) == 0 {
		return "no far-field data"
	}
	cuts := map[float64][]float64{}
	var phis []float64
	for _, s := range r.Pattern {
		if _, ok := cuts[s.PhiDeg]; !ok {
			phis = append(phis, s.PhiDeg)
		}
		cuts[s.PhiDeg] = append(cuts[s.PhiDeg], math.Max(s.GainDBi, -40))
	}
	sort.Float64s(phis)
	series := make([][]float64, len(phis))
	labels := make([]string, len(phis))
	for i, phi := range phis {
		series[i] = downsample(cuts[phi], opts.Width)
		labels[i] = fmt.Sprintf("φ=%g°", phi)
	}
	caption := fmt.Sprintf("gain (dBi) vs θ at %s, cuts %s", ghz(r.FarFieldHz), strings.Join(labels, ", "))
	return asciigraph.PlotMany(series,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Precision(1),
		asciigraph.Caption(caption),
	)
}

// MeritTable formats figures of merit as aligned rows.
func MeritTable(m results.Merit) string {
	rows := []string{
		row("resonance", ghz(m.ResonanceHz)),
		row("min S11", fmt.Sprintf("%.2f dB", m.MinS11DB)),
	}
	if m.InputResistanceOhm != 0 || m.InputReactanceOhm != 0 {
		rows = append(rows, row("Zin at resonance", fmt.Sprintf("%.1f %+.1fj Ω", m.InputResistanceOhm, m.InputReactanceOhm)))
	}
	if m.BandwidthHz > 0 {
		rows = append(rows,
			row("-10 dB band", fmt.Sprintf("%s to %s", ghz(m.BandLowHz), ghz(m.BandHighHz))),
			row("bandwidth", fmt.Sprintf("%.1f MHz (%.2f%%)", m.BandwidthHz/1e6, 100*m.BandwidthHz/m.ResonanceHz)),
		)
	} else {
		rows = append(rows, row("bandwidth", "not matched"))
	}
	if m.TargetHz > 0 {
		rows = append(rows,
			row("S11 at target", fmt.Sprintf("%.2f dB", m.S11AtTargetDB)),
			row("resonance error", fmt.Sprintf("%+.1f MHz", m.ResonanceErrorHz/1e6)),
		)
	}
	if m.PeakGainDBi != 0 {
		rows = append(rows, row("peak gain", fmt.Sprintf("%.2f dBi at θ=%g° φ=%g°", m.PeakGainDBi, m.PeakThetaDeg, m.PeakPhiDeg)))
	}
	return strings.Join(rows, "\n")
}

// DimensionTable formats synthesized dimensions.
func DimensionTable(p antenna.GeometricParameters) string {
	mm := func(v float64) string { return fmt.Sprintf("%.3f mm", v) }
	return strings.Join([]string{
		row("patch width", mm(p.PatchWidthMM)),
		row("patch length", mm(p.PatchLengthMM)),
		row("feed inset", mm(p.FeedOffsetMM)),
		row("feed width", mm(p.FeedWidthMM)),
		row("ground", fmt.Sprintf("%.3f x %.3f mm", p.GroundWidthMM, p.GroundLengthMM)),
		row("εeff", fmt.Sprintf("%.4f", p.Report.EffectivePermittivity)),
		row("ΔL", mm(p.Report.FringeExtensionMM)),
		row("edge R", fmt.Sprintf("%.1f Ω", p.Report.EdgeResistanceOhm)),
	}, "\n")
}
