package antenna

import "math"

// Synthesize computes patch dimensions for a TM010 rectangular patch:
// width from the free-space wavelength, length from the effective
// permittivity less the fringing extension at both radiating edges, and an
// inset feed depth matched to the target impedance.
func Synthesize(spec DesignSpec) (GeometricParameters, error) {
	if err := spec.Validate(); err != nil {
		return GeometricParameters{}, err
	}

	er := spec.Permittivity
	h := spec.ThicknessMM
	lambda0 := spec.WavelengthMM()

	w := lambda0 / 2 * math.Sqrt(2/(er+1))
	if w <= 0 {
		return GeometricParameters{}, degenerate("patch_width_mm", w)
	}

	eeff := LineEffectivePermittivity(er, w/h)
	dl := FringeExtension(eeff, w, h)

	leff := lambda0 / (2 * math.Sqrt(eeff))
	l := leff - 2*dl
	if !finite(l) || l <= 0 {
		return GeometricParameters{}, degenerate("patch_length_mm", l)
	}

	offset, edgeOhm, model, err := feedOffset(spec, w, l)
	if err != nil {
		return GeometricParameters{}, err
	}

	feedW, err := LineWidthForImpedance(er, h, spec.ImpedanceOhm)
	if err != nil {
		return GeometricParameters{}, err
	}
	if feedW >= w {
		return GeometricParameters{}, invalid("impedance_ohm", spec.ImpedanceOhm, "feed line would be wider than the patch")
	}

	margin := GroundMarginFactor * h
	p := GeometricParameters{
		PatchWidthMM:   w,
		PatchLengthMM:  l,
		GroundWidthMM:  w + 2*margin,
		GroundLengthMM: l + 2*margin,
		FeedOffsetMM:   offset,
		FeedWidthMM:    feedW,
		Spec:           spec,
		Report: DesignReport{
			WavelengthMM:          lambda0,
			EffectivePermittivity: eeff,
			FringeExtensionMM:     dl,
			EffectiveLengthMM:     leff,
			GuidedWavelengthMM:    lambda0 / math.Sqrt(eeff),
			QuarterWaveMM:         QuarterWaveLength(spec.FrequencyHz, er, feedW, h),
			EdgeResistanceOhm:     edgeOhm,
			FeedModel:             model,
		},
	}
	if err := p.Validate(); err != nil {
		return GeometricParameters{}, err
	}
	return p, nil
}
