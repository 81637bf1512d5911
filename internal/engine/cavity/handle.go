package cavity

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/logging"
)

type solution struct {
	model    model
	sparams  engine.SParameters
	solvedAt time.Time
}

type handle struct {
	eng *Engine

	mu      sync.Mutex
	closed  bool
	patch   *patch
	setup   *engine.SetupConfig
	sweep   *engine.SweepConfig
	abortCh chan struct{}
	solved  *solution
}

func (h *handle) Version() string { return h.eng.version }

func (h *handle) check(op string) error {
	if h.closed {
		return &engine.Error{Kind: engine.Crashed, Op: op, Err: engine.ErrClosed}
	}
	return nil
}

func (h *handle) Apply(ctx context.Context, seq geometry.Sequence) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check("apply"); err != nil {
		return err
	}
	if err := geometry.Validate(seq); err != nil {
		return &engine.Error{Kind: engine.GeometryRejected, Op: "apply", Err: err}
	}
	p, err := patchFromSequence(seq)
	if err != nil {
		return &engine.Error{Kind: engine.GeometryRejected, Op: "apply", Err: err}
	}
	h.patch = &p
	h.solved = nil
	return nil
}

func (h *handle) Configure(ctx context.Context, setup engine.SetupConfig, sweep engine.SweepConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check("configure"); err != nil {
		return err
	}
	if err := setup.Validate(); err != nil {
		return err
	}
	if err := sweep.Validate(); err != nil {
		return err
	}
	h.setup, h.sweep = &setup, &sweep
	h.solved = nil
	return nil
}

func (h *handle) Solve(ctx context.Context) error {
	h.mu.Lock()
	if err := h.check("solve"); err != nil {
		h.mu.Unlock()
		return err
	}
	if h.patch == nil || h.setup == nil || h.sweep == nil {
		h.mu.Unlock()
		return &engine.Error{Kind: engine.Crashed, Op: "solve", Err: engine.ErrNotConfigured}
	}
	p, setup, sweep := *h.patch, *h.setup, *h.sweep
	h.abortCh = make(chan struct{})
	abortCh := h.abortCh
	h.solved = nil
	h.mu.Unlock()

	e := h.eng
	e.mu.Lock()
	fault := e.solveFault
	e.mu.Unlock()

	delta := 0.5
	passes := 0
	converged := false
	for passes < setup.MaxPasses {
		if e.passDuration > 0 {
			timer := time.NewTimer(e.passDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				h.discard()
				return &engine.Error{Kind: engine.Aborted, Op: "solve", Err: ctx.Err()}
			case <-abortCh:
				timer.Stop()
				h.discard()
				return engine.Errorf(engine.Aborted, "solve", "aborted after %d passes", passes)
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			h.discard()
			return &engine.Error{Kind: engine.Aborted, Op: "solve", Err: err}
		}

		passes++
		delta *= e.rate
		e.logger.Debug(ctx, "adaptive pass", logging.Int("pass", passes), logging.Float("delta_s", delta))

		if fault != engine.KindUnknown {
			h.discard()
			return engine.Errorf(fault, "solve", "injected failure on pass %d", passes)
		}
		if delta <= setup.MaxDeltaS && passes >= setup.MinPasses {
			converged = true
			break
		}
	}
	if !converged {
		h.discard()
		return engine.Errorf(engine.SolveNonConvergent, "solve", "delta S %.4g above %.4g after %d passes", delta, setup.MaxDeltaS, passes)
	}

	m := newModel(p)
	freqs := sweep.Frequencies()
	mats := make([][]engine.Complex, len(freqs))
	for i, f := range freqs {
		mats[i] = []engine.Complex{engine.FromComplex(m.reflection(f))}
	}
	solvedAt := e.clock().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &engine.Error{Kind: engine.Crashed, Op: "solve", Err: engine.ErrClosed}
	}
	h.solved = &solution{
		model: m,
		sparams: engine.SParameters{
			Setup:       setup.Name,
			Sweep:       sweep.Name,
			Ports:       1,
			ReferenceZ0: p.z0,
			Frequencies: freqs,
			Matrices:    mats,
			SolvedAt:    solvedAt,
			Passes:      passes,
		},
		solvedAt: solvedAt,
	}
	return nil
}

func (h *handle) discard() {
	h.mu.Lock()
	h.solved = nil
	h.mu.Unlock()
}

// Abort interrupts a running Solve and discards any partial solution.
func (h *handle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signalAbort()
	h.solved = nil
	return nil
}

func (h *handle) SParameters(ctx context.Context, setup, sweep string) (engine.SParameters, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check("sparams"); err != nil {
		return engine.SParameters{}, err
	}
	if h.solved == nil || h.solved.sparams.Setup != setup || h.solved.sparams.Sweep != sweep {
		return engine.SParameters{}, fmt.Errorf("%w: %s:%s", engine.ErrNoSolution, setup, sweep)
	}
	return copySParameters(h.solved.sparams), nil
}

func (h *handle) FarField(ctx context.Context, setup string, frequencyHz float64, grid engine.AngularGrid) (engine.FarField, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.check("farfield"); err != nil {
		return engine.FarField{}, err
	}
	if h.solved == nil || h.solved.sparams.Setup != setup {
		return engine.FarField{}, fmt.Errorf("%w: %s", engine.ErrNoSolution, setup)
	}
	if err := grid.Validate(); err != nil {
		return engine.FarField{}, err
	}
	if !(frequencyHz > 0) {
		return engine.FarField{}, fmt.Errorf("cavity: far-field frequency must be > 0, got %v", frequencyHz)
	}

	m := h.solved.model
	total := m.radiatedPower(frequencyHz)
	eff := m.efficiency()
	out := engine.FarField{Setup: setup, FrequencyHz: frequencyHz}
	for _, phi := range grid.PhiValues {
		for _, theta := range grid.Thetas() {
			d := 4 * math.Pi * m.pattern(frequencyHz, theta*math.Pi/180, phi*math.Pi/180) / total
			out.Samples = append(out.Samples, engine.PatternSample{
				ThetaDeg:       theta,
				PhiDeg:         phi,
				GainDBi:        toDB(eff * d),
				DirectivityDBi: toDB(d),
			})
		}
	}
	return out, nil
}

// Close releases the licence seat. Safe to call more than once.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.signalAbort()
	h.solved = nil
	h.eng.release()
	return nil
}

// signalAbort closes the abort channel once. Callers hold h.mu.
func (h *handle) signalAbort() {
	if h.abortCh == nil {
		return
	}
	select {
	case <-h.abortCh:
	default:
		close(h.abortCh)
	}
}

func copySParameters(s engine.SParameters) engine.SParameters {
	out := s
	out.Frequencies = append([]float64(nil), s.Frequencies...)
	out.Matrices = make([][]engine.Complex, len(s.Matrices))
	for i, m := range s.Matrices {
		out.Matrices[i] = append([]engine.Complex(nil), m...)
	}
	return out
}
