// Package cavity is a built-in reference engine. It models the applied patch
// as a lossy cavity with two radiating slots, which is accurate enough to
// place the resonance and shape the pattern of thin-substrate designs, and it
// reproduces the operational behaviour of a licensed solver: limited seats,
// adaptive passes, cancellation and classified failures.
package cavity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/logging"
)

const (
	Name           = "cavity"
	DefaultVersion = "1.4.0"
)

// Engine hands out cavity sessions against a fixed number of licence seats.
type Engine struct {
	version      string
	installed    bool
	seats        chan struct{}
	passDuration time.Duration
	rate         float64
	clock        func() time.Time
	logger       logging.Logger

	mu           sync.Mutex
	launchFaults []engine.Kind
	solveFault   engine.Kind
	attempts     int
}

type Option func(*Engine)

// WithSeats sets the number of concurrently open sessions. Default 1.
func WithSeats(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.seats = make(chan struct{}, n)
		}
	}
}

func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// WithInstalled(false) makes every Open fail with NotInstalled.
func WithInstalled(ok bool) Option {
	return func(e *Engine) { e.installed = ok }
}

// WithLaunchFailures makes the next n Opens fail with kind.
func WithLaunchFailures(kind engine.Kind, n int) Option {
	return func(e *Engine) {
		for i := 0; i < n; i++ {
			e.launchFaults = append(e.launchFaults, kind)
		}
	}
}

// WithSolveFailure makes every Solve fail with kind after its first pass.
func WithSolveFailure(kind engine.Kind) Option {
	return func(e *Engine) { e.solveFault = kind }
}

// WithPassDuration sets the wall-clock time of one adaptive pass.
func WithPassDuration(d time.Duration) Option {
	return func(e *Engine) { e.passDuration = d }
}

// WithConvergenceRate sets the per-pass contraction of the S-parameter
// delta, in (0, 1). Rates near 1 never converge.
func WithConvergenceRate(r float64) Option {
	return func(e *Engine) {
		if r > 0 && r < 1 {
			e.rate = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		version:   DefaultVersion,
		installed: true,
		seats:     make(chan struct{}, 1),
		rate:      0.5,
		clock:     time.Now,
		logger:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Factory adapts New to engine.Registry. Recognised options: seats, version.
func Factory(opts map[string]string) (engine.Engine, error) {
	var o []Option
	if v, ok := opts["version"]; ok && v != "" {
		o = append(o, WithVersion(v))
	}
	if s, ok := opts["seats"]; ok && s != "" {
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 1 {
			return nil, fmt.Errorf("cavity: invalid seats %q", s)
		}
		o = append(o, WithSeats(n))
	}
	return New(o...), nil
}

func (e *Engine) Name() string { return Name }

// Attempts counts Open calls, successful or not.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// SeatsInUse reports the number of open sessions.
func (e *Engine) SeatsInUse() int { return len(e.seats) }

func (e *Engine) Open(ctx context.Context) (engine.Handle, error) {
	e.mu.Lock()
	e.attempts++
	var fault engine.Kind
	if len(e.launchFaults) > 0 {
		fault = e.launchFaults[0]
		e.launchFaults = e.launchFaults[1:]
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &engine.Error{Kind: engine.Aborted, Op: "open", Err: err}
	}
	if !e.installed {
		return nil, engine.Errorf(engine.NotInstalled, "open", "cavity engine not installed")
	}
	if fault != engine.KindUnknown {
		return nil, engine.Errorf(fault, "open", "injected launch failure")
	}

	select {
	case e.seats <- struct{}{}:
	default:
		return nil, engine.Errorf(engine.LicenseUnavailable, "open", "all %d seats in use", cap(e.seats))
	}

	e.logger.Debug(ctx, "cavity session opened", logging.Int("seats_in_use", len(e.seats)))
	return &handle{eng: e}, nil
}

func (e *Engine) release() {
	<-e.seats
}
