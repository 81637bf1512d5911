package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/results"
)

var ErrNotTuned = errors.New("optim: resonance not within tolerance")

// TuneStep is one resonance correction.
type TuneStep struct {
	DesignHz    float64 `json:"design_hz"`
	ResonanceHz float64 `json:"resonance_hz"`
	MinS11DB    float64 `json:"min_s11_db"`
}

// TuneResult reports the design frequency that puts the simulated
// resonance on target.
type TuneResult struct {
	TargetHz  float64            `json:"target_hz"`
	Spec      antenna.DesignSpec `json:"spec"`
	Record    *results.Record    `json:"-"`
	Steps     []TuneStep         `json:"steps"`
	Converged bool               `json:"converged"`
}

// Tune re-synthesizes spec with its design frequency scaled by
// target/simulated until the resonance lies within toleranceHz of the
// original frequency. Unlike Optimize, any pipeline failure aborts tuning
// because there is no alternative point to fall back on.
func Tune(ctx context.Context, eval Evaluator, spec antenna.DesignSpec, toleranceHz float64, maxIterations int) (*TuneResult, error) {
	if maxIterations <= 0 {
		return nil, ErrNoIterations
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if toleranceHz <= 0 {
		return nil, fmt.Errorf("optim: tolerance must be positive, got %g", toleranceHz)
	}

	target := spec.FrequencyHz
	res := &TuneResult{TargetHz: target, Spec: spec}
	design := spec
	for i := 0; i < maxIterations; i++ {
		rec, err := eval(ctx, design)
		if err != nil {
			return res, fmt.Errorf("tune iteration %d: %w", i+1, err)
		}
		if rec == nil || rec.Len() == 0 {
			return res, fmt.Errorf("tune iteration %d: %w", i+1, results.ErrNoData)
		}
		m := results.Evaluate(rec, target)
		res.Spec, res.Record = design, rec
		res.Steps = append(res.Steps, TuneStep{DesignHz: design.FrequencyHz, ResonanceHz: m.ResonanceHz, MinS11DB: m.MinS11DB})

		if math.Abs(m.ResonanceHz-target) <= toleranceHz {
			res.Converged = true
			return res, nil
		}
		if m.ResonanceHz <= 0 {
			return res, fmt.Errorf("tune iteration %d: %w", i+1, results.ErrNoData)
		}
		design.FrequencyHz *= target / m.ResonanceHz
	}
	return res, ErrNotTuned
}
