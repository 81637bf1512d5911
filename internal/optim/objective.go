package optim

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"

	"github.com/san-kum/patchsim/internal/results"
)

// MinimizeS11At scores the reflection in dB at hz. Records whose sweep
// does not cover hz score Penalty.
func MinimizeS11At(hz float64) Objective {
	return func(r *results.Record) float64 {
		db, ok := results.S11At(r, hz)
		if !ok {
			return Penalty
		}
		return db
	}
}

// ResonanceError scores the absolute distance in Hz between the simulated
// resonance and target.
func ResonanceError(target float64) Objective {
	return func(r *results.Record) float64 {
		if r.Len() == 0 {
			return Penalty
		}
		return math.Abs(results.Evaluate(r, target).ResonanceErrorHz)
	}
}

// ObjectiveVariables are the names visible to compiled expressions.
var ObjectiveVariables = []string{
	"resonance_hz",
	"min_s11_db",
	"bandwidth_hz",
	"peak_gain_dbi",
	"s11_db_at_target",
	"target_hz",
	"resonance_error_hz",
	"input_resistance_ohm",
	"input_reactance_ohm",
}

// CompileObjective compiles a CEL expression over the record's figures of
// merit, for example "min_s11_db - peak_gain_dbi". CEL does not mix int
// and double operands, so numeric literals need a decimal point. The result
// must be numeric. targetHz of zero means the record's design frequency.
func CompileObjective(expr string, targetHz float64) (Objective, error) {
	decls := make([]cel.EnvOption, 0, len(ObjectiveVariables))
	for _, name := range ObjectiveVariables {
		decls = append(decls, cel.Variable(name, cel.DoubleType))
	}
	env, err := cel.NewEnv(decls...)
	if err != nil {
		return nil, fmt.Errorf("objective env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("objective compile: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("objective program: %w", err)
	}

	return func(r *results.Record) float64 {
		if r.Len() == 0 {
			return Penalty
		}
		m := results.Evaluate(r, targetHz)
		out, _, err := prg.Eval(map[string]any{
			"resonance_hz":         m.ResonanceHz,
			"min_s11_db":           m.MinS11DB,
			"bandwidth_hz":         m.BandwidthHz,
			"peak_gain_dbi":        m.PeakGainDBi,
			"s11_db_at_target":     m.S11AtTargetDB,
			"target_hz":            m.TargetHz,
			"resonance_error_hz":   m.ResonanceErrorHz,
			"input_resistance_ohm": m.InputResistanceOhm,
			"input_reactance_ohm":  m.InputReactanceOhm,
		})
		if err != nil {
			return Penalty
		}
		switch v := out.Value().(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case uint64:
			return float64(v)
		}
		return Penalty
	}, nil
}
