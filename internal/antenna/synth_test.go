package antenna

import (
	"errors"
	"math"
	"testing"
)

func TestSynthesizeReferenceDesign(t *testing.T) {
	spec, err := NewDesignSpec(2.4e9, 4.4, 1.57, 50)
	if err != nil {
		t.Fatalf("spec: %v", err)
	}

	p, err := Synthesize(spec)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	// Classical FR4 2.4 GHz design tables: W ≈ 38 mm, L ≈ 29.5 mm.
	if rel(p.PatchWidthMM, 38.0) > 0.03 {
		t.Errorf("width = %.3f mm, want ~38 mm", p.PatchWidthMM)
	}
	if rel(p.PatchLengthMM, 29.5) > 0.03 {
		t.Errorf("length = %.3f mm, want ~29.5 mm", p.PatchLengthMM)
	}
	// Published 50 Ω inset for this design is about 9 mm.
	if p.FeedOffsetMM < 7.5 || p.FeedOffsetMM > 10.5 {
		t.Errorf("feed offset = %.3f mm, want ~9 mm", p.FeedOffsetMM)
	}
	if p.FeedWidthMM < 2.7 || p.FeedWidthMM > 3.3 {
		t.Errorf("feed width = %.3f mm, want ~3 mm", p.FeedWidthMM)
	}
	if p.Report.FeedModel != "ramesh-yip" {
		t.Errorf("feed model = %s", p.Report.FeedModel)
	}
	if math.Abs(p.GroundLengthMM-(p.PatchLengthMM+12*1.57)) > 1e-9 {
		t.Errorf("ground length = %.3f", p.GroundLengthMM)
	}
}

func TestSynthesizeInvalidSpec(t *testing.T) {
	base := DesignSpec{FrequencyHz: 2.4e9, Permittivity: 4.4, ThicknessMM: 1.57, ImpedanceOhm: 50, LossTangent: 0.02}

	tests := []struct {
		name  string
		mut   func(*DesignSpec)
		field string
	}{
		{"zero frequency", func(s *DesignSpec) { s.FrequencyHz = 0 }, "frequency_hz"},
		{"negative frequency", func(s *DesignSpec) { s.FrequencyHz = -1 }, "frequency_hz"},
		{"permittivity below one", func(s *DesignSpec) { s.Permittivity = 0.9 }, "permittivity"},
		{"zero thickness", func(s *DesignSpec) { s.ThicknessMM = 0 }, "thickness_mm"},
		{"negative loss tangent", func(s *DesignSpec) { s.LossTangent = -0.1 }, "loss_tangent"},
		{"zero impedance", func(s *DesignSpec) { s.ImpedanceOhm = 0 }, "impedance_ohm"},
		{"NaN frequency", func(s *DesignSpec) { s.FrequencyHz = math.NaN() }, "frequency_hz"},
		{"impedance above any line", func(s *DesignSpec) { s.ImpedanceOhm = 400 }, "impedance_ohm"},
		{"impedance below any line", func(s *DesignSpec) { s.ImpedanceOhm = 1 }, "impedance_ohm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base
			tt.mut(&spec)
			_, err := Synthesize(spec)
			if !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("expected ErrInvalidSpec, got %v", err)
			}
			var ise *InvalidSpecError
			if !errors.As(err, &ise) || ise.Field != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestSynthesizeDegenerateLength(t *testing.T) {
	// Substrate as thick as a wavelength leaves no room for the patch.
	spec := DesignSpec{FrequencyHz: 10e9, Permittivity: 2.2, ThicknessMM: 30, ImpedanceOhm: 50}
	_, err := Synthesize(spec)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("expected ErrDegenerateGeometry, got %v", err)
	}
	if !errors.Is(err, ErrInvalidSpec) {
		t.Error("degenerate geometry should also match ErrInvalidSpec")
	}
}

func TestFeedOffsetFollowsImpedance(t *testing.T) {
	spec, _ := NewDesignSpec(2.4e9, 4.4, 1.57, 50)
	p50, _ := Synthesize(spec)

	spec.ImpedanceOhm = 75
	p75, err := Synthesize(spec)
	if err != nil {
		t.Fatalf("synthesize 75 ohm: %v", err)
	}
	if p75.FeedOffsetMM >= p50.FeedOffsetMM {
		t.Errorf("higher impedance should move the feed toward the edge: 50Ω=%.3f 75Ω=%.3f",
			p50.FeedOffsetMM, p75.FeedOffsetMM)
	}
	if p75.FeedWidthMM >= p50.FeedWidthMM {
		t.Errorf("higher impedance should narrow the feed line")
	}
}

func TestFeedOffsetOutsideFitRange(t *testing.T) {
	spec := DesignSpec{FrequencyHz: 5.8e9, Permittivity: 1.07, ThicknessMM: 1.0, ImpedanceOhm: 50}
	p, err := Synthesize(spec)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if p.Report.FeedModel != "slot-conductance" {
		t.Errorf("feed model = %s", p.Report.FeedModel)
	}
	if p.FeedOffsetMM <= 0 || p.FeedOffsetMM >= p.PatchLengthMM/2 {
		t.Errorf("feed offset %.3f outside (0, L/2)", p.FeedOffsetMM)
	}
}

func TestLineWidthForImpedance(t *testing.T) {
	tests := []struct {
		er, h, z0 float64
	}{
		{4.4, 1.57, 50},
		{2.2, 0.787, 50},
		{10.2, 0.635, 75},
	}
	for _, tt := range tests {
		w, err := LineWidthForImpedance(tt.er, tt.h, tt.z0)
		if err != nil {
			t.Fatalf("er=%.1f z0=%.1f: %v", tt.er, tt.z0, err)
		}
		got := CharacteristicImpedance(tt.er, w/tt.h)
		if math.Abs(got-tt.z0) > 0.01 {
			t.Errorf("er=%.1f h=%.3f: width %.4f gives %.3f Ω, want %.1f", tt.er, tt.h, w, got, tt.z0)
		}
	}
}

func TestLineWidthForImpedanceOutOfRange(t *testing.T) {
	for _, z0 := range []float64{400, 1, math.NaN()} {
		w, err := LineWidthForImpedance(4.4, 1.57, z0)
		var ise *InvalidSpecError
		if !errors.As(err, &ise) || ise.Field != "impedance_ohm" {
			t.Errorf("z0=%g: width %.4f, err %v; want impedance_ohm InvalidSpecError", z0, w, err)
		}
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	spec, _ := NewDesignSpec(5.8e9, 3.55, 0.813, 50)
	a, _ := Synthesize(spec)
	b, _ := Synthesize(spec)
	if a != b {
		t.Errorf("synthesis not deterministic:\n%+v\n%+v", a, b)
	}
}

func rel(got, want float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}
