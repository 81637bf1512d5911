// Package optim searches the design space by repeatedly running the full
// synthesize, build, solve and extract pipeline and scoring each result.
// Every evaluation is independent: a failed run scores Penalty instead of
// aborting the search.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/results"
)

// Penalty is the score of an evaluation that failed or produced no usable data.
const Penalty = 1e6

var (
	ErrInvalidBounds = errors.New("optim: invalid bounds")
	ErrNoIterations  = errors.New("optim: max iterations must be positive")
)

// Evaluator runs one complete pipeline iteration for spec.
type Evaluator func(ctx context.Context, spec antenna.DesignSpec) (*results.Record, error)

// FromOrchestrator adapts an orchestrator into an Evaluator.
func FromOrchestrator(o *orchestrator.Orchestrator) Evaluator {
	return func(ctx context.Context, spec antenna.DesignSpec) (*results.Record, error) {
		out, err := o.Run(ctx, spec)
		if err != nil {
			return nil, err
		}
		return out.Record, nil
	}
}

// Objective scores a record. Lower is better.
type Objective func(*results.Record) float64

// Field names a tunable DesignSpec field.
type Field string

const (
	FieldFrequency    Field = "frequency_hz"
	FieldPermittivity Field = "permittivity"
	FieldThickness    Field = "thickness_mm"
	FieldLossTangent  Field = "loss_tangent"
	FieldImpedance    Field = "impedance_ohm"
)

// ParseField accepts the JSON name of a tunable field.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldFrequency, FieldPermittivity, FieldThickness, FieldLossTangent, FieldImpedance:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown field %q", ErrInvalidBounds, s)
}

func (f Field) get(s antenna.DesignSpec) float64 {
	switch f {
	case FieldFrequency:
		return s.FrequencyHz
	case FieldPermittivity:
		return s.Permittivity
	case FieldThickness:
		return s.ThicknessMM
	case FieldLossTangent:
		return s.LossTangent
	case FieldImpedance:
		return s.ImpedanceOhm
	}
	return math.NaN()
}

func (f Field) set(s antenna.DesignSpec, v float64) antenna.DesignSpec {
	switch f {
	case FieldFrequency:
		s.FrequencyHz = v
	case FieldPermittivity:
		s.Permittivity = v
	case FieldThickness:
		s.ThicknessMM = v
	case FieldLossTangent:
		s.LossTangent = v
	case FieldImpedance:
		s.ImpedanceOhm = v
	}
	return s
}

// Range is an inclusive interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// Bounds limits which fields the search may move and how far.
type Bounds map[Field]Range

// Fields returns the bounded fields in a stable order.
func (b Bounds) Fields() []Field {
	out := make([]Field, 0, len(b))
	for f := range b {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every range is well formed and contains the initial spec.
func (b Bounds) Validate(initial antenna.DesignSpec) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidBounds)
	}
	for _, f := range b.Fields() {
		r := b[f]
		if _, err := ParseField(string(f)); err != nil {
			return err
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min > r.Max {
			return fmt.Errorf("%w: %s range [%g, %g]", ErrInvalidBounds, f, r.Min, r.Max)
		}
		if v := f.get(initial); v < r.Min || v > r.Max {
			return fmt.Errorf("%w: initial %s=%g outside [%g, %g]", ErrInvalidBounds, f, v, r.Min, r.Max)
		}
	}
	return nil
}

// Trial is one scored evaluation.
type Trial struct {
	Index  int
	Spec   antenna.DesignSpec
	Score  float64
	Record *results.Record
	Err    error
}

// Failed reports whether the trial was scored as a penalty because the
// pipeline did not produce a record.
func (t Trial) Failed() bool { return t.Err != nil }

// Result is the outcome of a search.
type Result struct {
	Best   Trial
	Trials []Trial
}

type Option func(*settings)

type settings struct {
	logger   logging.Logger
	minStep  float64
	observer func(Trial)
}

// WithLogger logs each trial at debug level.
func WithLogger(l logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMinStep stops the search once every step, relative to its range
// width, falls below frac. The default is 1e-3.
func WithMinStep(frac float64) Option {
	return func(s *settings) { s.minStep = frac }
}

// WithTrialObserver is called after every evaluation.
func WithTrialObserver(fn func(Trial)) Option {
	return func(s *settings) { s.observer = fn }
}

func newSettings(opts []Option) settings {
	s := settings{logger: logging.Noop(), minStep: 1e-3}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// evaluate runs one iteration. Only cancellation of ctx is returned as an
// error; pipeline failures become Penalty scores.
func evaluate(ctx context.Context, eval Evaluator, spec antenna.DesignSpec, objective Objective, idx int) (Trial, error) {
	t := Trial{Index: idx, Spec: spec, Score: Penalty}
	if err := ctx.Err(); err != nil {
		return t, err
	}
	if err := spec.Validate(); err != nil {
		t.Err = err
		return t, nil
	}
	rec, err := eval(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return t, ctx.Err()
		}
		t.Err = err
		return t, nil
	}
	t.Record = rec
	if rec == nil || rec.Len() == 0 {
		t.Err = results.ErrNoData
		return t, nil
	}
	if score := objective(rec); !math.IsNaN(score) && !math.IsInf(score, 0) {
		t.Score = score
	}
	return t, nil
}

// Optimize returns the best spec found within maxIterations pipeline runs.
func Optimize(ctx context.Context, eval Evaluator, initial antenna.DesignSpec, bounds Bounds, objective Objective, maxIterations int, opts ...Option) (antenna.DesignSpec, error) {
	res, err := Search(ctx, eval, initial, bounds, objective, maxIterations, opts...)
	if res == nil {
		return initial, err
	}
	return res.Best.Spec, err
}

// Search is Optimize with the full trial history. It performs a compass
// search: each bounded field is probed one step up and down, the first
// improvement is taken, and all steps halve when no probe improves. On
// cancellation the best result so far is returned with the context error.
func Search(ctx context.Context, eval Evaluator, initial antenna.DesignSpec, bounds Bounds, objective Objective, maxIterations int, opts ...Option) (*Result, error) {
	if maxIterations <= 0 {
		return nil, ErrNoIterations
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if err := bounds.Validate(initial); err != nil {
		return nil, err
	}
	s := newSettings(opts)
	fields := bounds.Fields()

	res := &Result{}
	record := func(t Trial) {
		res.Trials = append(res.Trials, t)
		s.logger.Debug(ctx, "optim trial",
			logging.Int("index", t.Index),
			logging.Float("score", t.Score),
			logging.Err(t.Err),
		)
		if s.observer != nil {
			s.observer(t)
		}
	}

	best, err := evaluate(ctx, eval, initial, objective, 0)
	if err != nil {
		return nil, err
	}
	record(best)
	res.Best = best

	steps := make([]float64, len(fields))
	for i, f := range fields {
		steps[i] = (bounds[f].Max - bounds[f].Min) / 4
	}

	iter := 1
	for iter < maxIterations {
		improved := false
	probe:
		for i, f := range fields {
			for _, dir := range []float64{1, -1} {
				if iter >= maxIterations {
					break probe
				}
				cur := f.get(best.Spec)
				next := bounds[f].clamp(cur + dir*steps[i])
				if next == cur {
					continue
				}
				t, err := evaluate(ctx, eval, f.set(best.Spec, next), objective, iter)
				if err != nil {
					return res, err
				}
				iter++
				record(t)
				if t.Score < best.Score {
					best = t
					res.Best = t
					improved = true
					break probe
				}
			}
		}
		if improved {
			continue
		}
		done := true
		for i, f := range fields {
			steps[i] /= 2
			if width := bounds[f].Max - bounds[f].Min; width > 0 && steps[i]/width >= s.minStep {
				done = false
			}
		}
		if done {
			break
		}
	}

	s.logger.Info(ctx, "optim finished",
		logging.Int("iterations", len(res.Trials)),
		logging.Float("best_score", res.Best.Score),
	)
	return res, nil
}
