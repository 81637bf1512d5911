package results

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
)

// Source is the part of an engine session the extractor reads from.
type Source interface {
	Version() string
	SParameters(ctx context.Context, setup, sweep string) (engine.SParameters, error)
	FarField(ctx context.Context, setup string, frequencyHz float64, grid engine.AngularGrid) (engine.FarField, error)
}

type extractOptions struct {
	spec       antenna.DesignSpec
	grid       *engine.AngularGrid
	farFieldHz float64
	engineName string
}

type Option func(*extractOptions)

// WithSpec attaches the originating design spec for provenance.
func WithSpec(spec antenna.DesignSpec) Option {
	return func(o *extractOptions) { o.spec = spec }
}

// WithFarField samples the pattern over grid at frequencyHz. Without it no
// pattern is extracted.
func WithFarField(frequencyHz float64, grid engine.AngularGrid) Option {
	return func(o *extractOptions) {
		o.farFieldHz = frequencyHz
		o.grid = &grid
	}
}

func WithEngineName(name string) Option {
	return func(o *extractOptions) { o.engineName = name }
}

// Extract reads the solution of setup/sweep from src. Repeated extraction
// from the same solved session yields identical records.
func Extract(ctx context.Context, src Source, setup, sweep string, opts ...Option) (*Record, error) {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(stage string, err error) error {
		return &ExtractionError{Setup: setup, Sweep: sweep, Stage: stage, Err: err}
	}

	sp, err := src.SParameters(ctx, setup, sweep)
	if err != nil {
		if errors.Is(err, engine.ErrNoSolution) {
			return nil, fail("sparams", errors.Join(ErrNoData, err))
		}
		return nil, fail("sparams", err)
	}
	if err := checkSParameters(sp); err != nil {
		return nil, fail("sparams", err)
	}

	rec := &Record{
		Spec:        o.spec,
		Setup:       setup,
		Sweep:       sweep,
		SolvedAt:    sp.SolvedAt,
		Ports:       sp.Ports,
		ReferenceZ0: sp.ReferenceZ0,
		Frequencies: append([]float64(nil), sp.Frequencies...),
		S:           make([][]engine.Complex, len(sp.Matrices)),
		S11DB:       make([]float64, len(sp.Matrices)),
		VSWR:        make([]float64, len(sp.Matrices)),
		Meta: Meta{
			Engine:        o.engineName,
			EngineVersion: src.Version(),
			Passes:        sp.Passes,
		},
	}
	for i, m := range sp.Matrices {
		rec.S[i] = append([]engine.Complex(nil), m...)
		s11 := m[0].C128()
		rec.S11DB[i] = storedDB(s11)
		rec.VSWR[i] = storedVSWR(s11)
	}

	if o.grid != nil {
		ff, err := src.FarField(ctx, setup, o.farFieldHz, *o.grid)
		if err != nil {
			if errors.Is(err, engine.ErrNoSolution) {
				return nil, fail("farfield", errors.Join(ErrNoData, err))
			}
			return nil, fail("farfield", err)
		}
		if len(ff.Samples) == 0 {
			return nil, fail("farfield", ErrNoData)
		}
		for _, s := range ff.Samples {
			if !finite(s.GainDBi) || !finite(s.DirectivityDBi) {
				return nil, fail("farfield", fmt.Errorf("%w: non-finite gain at theta=%g phi=%g", ErrPartial, s.ThetaDeg, s.PhiDeg))
			}
		}
		rec.FarFieldHz = ff.FrequencyHz
		rec.Pattern = append([]engine.PatternSample(nil), ff.Samples...)
	}
	return rec, nil
}

func checkSParameters(sp engine.SParameters) error {
	if len(sp.Frequencies) == 0 {
		return ErrNoData
	}
	if sp.Ports < 1 {
		return fmt.Errorf("%w: %d ports", ErrPartial, sp.Ports)
	}
	if len(sp.Matrices) != len(sp.Frequencies) {
		return fmt.Errorf("%w: %d matrices for %d frequencies", ErrPartial, len(sp.Matrices), len(sp.Frequencies))
	}
	for i, m := range sp.Matrices {
		if len(m) != sp.Ports*sp.Ports {
			return fmt.Errorf("%w: sample %d has %d entries", ErrPartial, i, len(m))
		}
		for _, c := range m {
			if !finite(c.Re) || !finite(c.Im) {
				return fmt.Errorf("%w: non-finite sample at %g Hz", ErrPartial, sp.Frequencies[i])
			}
		}
		if cmplx.Abs(m[0].C128()) > 1+1e-9 {
			return fmt.Errorf("%w at %g Hz", ErrNotPassive, sp.Frequencies[i])
		}
		if i > 0 && !(sp.Frequencies[i] > sp.Frequencies[i-1]) {
			return fmt.Errorf("%w: frequencies not increasing at index %d", ErrPartial, i)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
