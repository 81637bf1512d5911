package cavity

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/geometry"
)

func referenceSequence(t *testing.T) geometry.Sequence {
	t.Helper()
	spec, err := antenna.NewDesignSpec(2.4e9, 4.4, 1.57, 50)
	if err != nil {
		t.Fatal(err)
	}
	p, err := antenna.Synthesize(spec)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := geometry.Build(p, geometry.WithLowestFrequency(1.5e9))
	if err != nil {
		t.Fatal(err)
	}
	return seq
}

var (
	testSetup = engine.DefaultSetup(2.4e9)
	testSweep = engine.SweepConfig{Name: "Sweep1", StartHz: 1.5e9, StopHz: 3.5e9, Points: 401, Type: engine.SweepDiscrete}
)

func solved(t *testing.T, e *Engine) engine.Handle {
	t.Helper()
	ctx := context.Background()
	h, err := e.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	if err := h.Apply(ctx, referenceSequence(t)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := h.Configure(ctx, testSetup, testSweep); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := h.Solve(ctx); err != nil {
		t.Fatalf("solve: %v", err)
	}
	return h
}

func TestResonanceNearDesignFrequency(t *testing.T) {
	h := solved(t, New())
	sp, err := h.SParameters(context.Background(), testSetup.Name, testSweep.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(sp.Frequencies) != 401 || sp.Ports != 1 || sp.ReferenceZ0 != 50 {
		t.Fatalf("unexpected shape: %d points, %d ports, z0 %v", len(sp.Frequencies), sp.Ports, sp.ReferenceZ0)
	}

	best, bestMag := 0, math.Inf(1)
	for i, m := range sp.Matrices {
		if mag := cmplx.Abs(m[0].C128()); mag < bestMag {
			best, bestMag = i, mag
		}
	}
	fmin := sp.Frequencies[best]
	if math.Abs(fmin-2.4e9)/2.4e9 > 0.01 {
		t.Errorf("S11 minimum at %.4g Hz, want ~2.4 GHz", fmin)
	}
	if db := 20 * math.Log10(bestMag); db > -10 {
		t.Errorf("match depth %.2f dB, want below -10 dB", db)
	}
	for _, m := range sp.Matrices {
		if cmplx.Abs(m[0].C128()) > 1 {
			t.Fatal("passive port reflected more than it received")
		}
	}
}

func TestExtractionIsIdempotent(t *testing.T) {
	h := solved(t, New())
	ctx := context.Background()
	a, err := h.SParameters(ctx, testSetup.Name, testSweep.Name)
	if err != nil {
		t.Fatal(err)
	}
	a.Matrices[0][0] = engine.Complex{}
	b, _ := h.SParameters(ctx, testSetup.Name, testSweep.Name)
	c, _ := h.SParameters(ctx, testSetup.Name, testSweep.Name)
	if b.Matrices[0][0] == (engine.Complex{}) {
		t.Fatal("caller mutation leaked into the engine")
	}
	for i := range b.Matrices {
		if b.Matrices[i][0] != c.Matrices[i][0] {
			t.Fatalf("sample %d differs between extractions", i)
		}
	}
	if !b.SolvedAt.Equal(c.SolvedAt) {
		t.Error("solve timestamp changed between extractions")
	}
}

func TestFarFieldBroadside(t *testing.T) {
	h := solved(t, New())
	ff, err := h.FarField(context.Background(), testSetup.Name, 2.4e9, engine.DefaultGrid())
	if err != nil {
		t.Fatal(err)
	}
	if len(ff.Samples) != 2*181 {
		t.Fatalf("samples = %d", len(ff.Samples))
	}
	var peak engine.PatternSample
	peak.GainDBi = math.Inf(-1)
	for _, s := range ff.Samples {
		if s.GainDBi > peak.GainDBi {
			peak = s
		}
		if s.GainDBi > s.DirectivityDBi {
			t.Fatalf("gain %.2f exceeds directivity %.2f", s.GainDBi, s.DirectivityDBi)
		}
	}
	if peak.ThetaDeg != 0 {
		t.Errorf("peak at theta %.0f, want broadside", peak.ThetaDeg)
	}
	if peak.DirectivityDBi < 4 || peak.DirectivityDBi > 10 {
		t.Errorf("peak directivity %.2f dBi outside the usual patch range", peak.DirectivityDBi)
	}
}

func TestNoSolutionBeforeSolve(t *testing.T) {
	e := New()
	h, err := e.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if _, err := h.SParameters(context.Background(), "Setup1", "Sweep1"); !errors.Is(err, engine.ErrNoSolution) {
		t.Errorf("err = %v", err)
	}
	if err := h.Solve(context.Background()); !errors.Is(err, engine.ErrNotConfigured) {
		t.Errorf("solve err = %v", err)
	}
}

func TestLaunchFailures(t *testing.T) {
	tests := []struct {
		name string
		eng  *Engine
		want engine.Kind
	}{
		{"not installed", New(WithInstalled(false)), engine.NotInstalled},
		{"injected licence", New(WithLaunchFailures(engine.LicenseUnavailable, 1)), engine.LicenseUnavailable},
		{"injected connectivity", New(WithLaunchFailures(engine.Connectivity, 1)), engine.Connectivity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.eng.Open(context.Background())
			if engine.KindOf(err) != tt.want {
				t.Fatalf("err = %v, want kind %v", err, tt.want)
			}
			if tt.eng.SeatsInUse() != 0 {
				t.Error("failed open consumed a seat")
			}
		})
	}
}

func TestSeatsAreLimited(t *testing.T) {
	e := New(WithSeats(1))
	ctx := context.Background()
	h, err := e.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Open(ctx); !engine.IsTransient(err) || engine.KindOf(err) != engine.LicenseUnavailable {
		t.Fatalf("second open err = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal("second close should be a no-op")
	}
	h2, err := e.Open(ctx)
	if err != nil {
		t.Fatalf("open after close: %v", err)
	}
	h2.Close()
	if e.Attempts() != 3 {
		t.Errorf("attempts = %d", e.Attempts())
	}
}

func TestNonConvergence(t *testing.T) {
	e := New(WithConvergenceRate(0.95))
	ctx := context.Background()
	h, err := e.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if err := h.Apply(ctx, referenceSequence(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.Configure(ctx, testSetup, testSweep); err != nil {
		t.Fatal(err)
	}
	err = h.Solve(ctx)
	if engine.KindOf(err) != engine.SolveNonConvergent {
		t.Fatalf("err = %v", err)
	}
	if _, err := h.SParameters(ctx, testSetup.Name, testSweep.Name); !errors.Is(err, engine.ErrNoSolution) {
		t.Errorf("partial solution retained: %v", err)
	}
}

func TestAbortDuringSolve(t *testing.T) {
	e := New(WithPassDuration(50 * time.Millisecond))
	ctx := context.Background()
	h, err := e.Open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if err := h.Apply(ctx, referenceSequence(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.Configure(ctx, testSetup, testSweep); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Solve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	if err := h.Abort(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if engine.KindOf(err) != engine.Aborted {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("solve did not return after abort")
	}
}

func TestCancelDuringSolve(t *testing.T) {
	e := New(WithPassDuration(50 * time.Millisecond))
	h, err := e.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if err := h.Apply(context.Background(), referenceSequence(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.Configure(context.Background(), testSetup, testSweep); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.Solve(ctx)
	if engine.KindOf(err) != engine.Aborted || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectsIncompleteGeometry(t *testing.T) {
	e := New()
	h, err := e.Open(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	seq := referenceSequence(t)
	err = h.Apply(context.Background(), seq[:len(seq)-1])
	if engine.KindOf(err) != engine.GeometryRejected {
		t.Fatalf("err = %v", err)
	}
}
