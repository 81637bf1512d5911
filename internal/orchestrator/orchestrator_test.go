package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/engine/cavity"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/observability"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/session"
)

type recorder struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (r *recorder) OnTransition(e orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []orchestrator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []orchestrator.State{}
	for _, e := range r.events {
		out = append(out, e.To)
	}
	return out
}

type memorySink struct {
	saved []*orchestrator.Outcome
	err   error
}

func (m *memorySink) Save(ctx context.Context, out *orchestrator.Outcome) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, out)
	return "run-1", nil
}

// flakyEngine wraps the cavity engine so Apply or Configure drop the
// connection a fixed number of times before reaching the real handle.
type flakyEngine struct {
	*cavity.Engine

	mu                sync.Mutex
	applyFailures     int
	configureFailures int
	applyCalls        int
	configureCalls    int
}

func (f *flakyEngine) Open(ctx context.Context) (engine.Handle, error) {
	h, err := f.Engine.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyHandle{Handle: h, eng: f}, nil
}

func (f *flakyEngine) calls() (apply, configure int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyCalls, f.configureCalls
}

type flakyHandle struct {
	engine.Handle
	eng *flakyEngine
}

func (h *flakyHandle) Apply(ctx context.Context, seq geometry.Sequence) error {
	h.eng.mu.Lock()
	h.eng.applyCalls++
	drop := h.eng.applyCalls <= h.eng.applyFailures
	h.eng.mu.Unlock()
	if drop {
		return &engine.Error{Kind: engine.Connectivity, Op: "apply", Err: errors.New("link dropped")}
	}
	return h.Handle.Apply(ctx, seq)
}

func (h *flakyHandle) Configure(ctx context.Context, setup engine.SetupConfig, sweep engine.SweepConfig) error {
	h.eng.mu.Lock()
	h.eng.configureCalls++
	drop := h.eng.configureCalls <= h.eng.configureFailures
	h.eng.mu.Unlock()
	if drop {
		return &engine.Error{Kind: engine.Connectivity, Op: "configure", Err: errors.New("link dropped")}
	}
	return h.Handle.Configure(ctx, setup, sweep)
}

func fastConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func referenceSpec() antenna.DesignSpec {
	spec, err := antenna.NewDesignSpec(2.4e9, 4.4, 1.57, 50)
	Expect(err).NotTo(HaveOccurred())
	return spec
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx context.Context
		rec *recorder
		reg *prometheus.Registry
		col *observability.Collector
	)

	BeforeEach(func() {
		ctx = context.Background()
		rec = &recorder{}
		reg = prometheus.NewRegistry()
		var err error
		col, err = observability.NewCollector(reg)
		Expect(err).NotTo(HaveOccurred())
	})

	build := func(eng engine.Engine, seats int, cfg orchestrator.Config, opts ...orchestrator.Option) (*orchestrator.Orchestrator, *session.Pool) {
		pool := session.NewPool(eng, seats)
		opts = append([]orchestrator.Option{
			orchestrator.WithLogger(logging.Noop()),
			orchestrator.WithObserver(rec),
			orchestrator.WithMetrics(col),
		}, opts...)
		o, err := orchestrator.New(pool, cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		return o, pool
	}

	Describe("a successful run", func() {
		It("walks every state in order and places the resonance near the design frequency", func() {
			sink := &memorySink{}
			o, pool := build(cavity.New(), 1, fastConfig(), orchestrator.WithSink(sink))

			out, err := o.Run(ctx, referenceSpec())
			Expect(err).NotTo(HaveOccurred())

			Expect(rec.states()).To(Equal([]orchestrator.State{
				orchestrator.Launching,
				orchestrator.Configuring,
				orchestrator.Solving,
				orchestrator.Extracting,
				orchestrator.Closed,
			}))
			Expect(out.Session.State).To(Equal("Closed"))
			Expect(out.RunID).To(Equal("run-1"))
			Expect(sink.saved).To(HaveLen(1))
			Expect(pool.InUse()).To(Equal(0))

			Expect(out.Parameters.PatchWidthMM).To(BeNumerically("~", 38, 38*0.03))
			Expect(out.Parameters.PatchLengthMM).To(BeNumerically("~", 29.5, 29.5*0.03))

			Expect(out.Record.Len()).To(Equal(401))
			Expect(out.Record.Frequencies[0]).To(BeNumerically("~", 1.5e9, 1))
			Expect(out.Record.Frequencies[400]).To(BeNumerically("~", 3.5e9, 1e3))
			Expect(out.Merit.ResonanceHz).To(BeNumerically("~", 2.4e9, 2.4e9*0.02))
			Expect(out.Record.Pattern).NotTo(BeEmpty())

			Expect(testutil.ToFloat64(col.Sessions.WithLabelValues("closed"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(col.Active)).To(Equal(0.0))
			Expect(testutil.ToFloat64(col.Transitions.WithLabelValues("Solving", "Extracting"))).To(Equal(1.0))
		})

		It("rejects an invalid spec before touching the engine", func() {
			eng := cavity.New()
			o, _ := build(eng, 1, fastConfig())
			_, err := o.Run(ctx, antenna.DesignSpec{FrequencyHz: -1, Permittivity: 4.4, ThicknessMM: 1.57, ImpedanceOhm: 50})
			Expect(errors.Is(err, antenna.ErrInvalidSpec)).To(BeTrue())
			Expect(eng.Attempts()).To(Equal(0))
			Expect(rec.states()).To(BeEmpty())
		})
	})

	Describe("launch retries", func() {
		It("makes exactly MaxRetries attempts on a persistent transient failure", func() {
			eng := cavity.New(cavity.WithLaunchFailures(engine.LicenseUnavailable, 100))
			cfg := fastConfig()
			cfg.MaxRetries = 4
			o, pool := build(eng, 1, cfg)

			_, err := o.Run(ctx, referenceSpec())
			Expect(err).To(HaveOccurred())
			Expect(eng.Attempts()).To(Equal(4))

			var launchErr *orchestrator.EngineLaunchError
			Expect(errors.As(err, &launchErr)).To(BeTrue())
			Expect(launchErr.Transient).To(BeTrue())
			Expect(launchErr.Attempts).To(Equal(4))

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Launching))
			Expect(runErr.Kind).To(Equal(engine.LicenseUnavailable))
			Expect(runErr.Retries).To(Equal(3))
			Expect(runErr.Spec.FrequencyHz).To(Equal(2.4e9))

			Expect(rec.states()).To(Equal([]orchestrator.State{orchestrator.Launching, orchestrator.Failed}))
			Expect(pool.InUse()).To(Equal(0))
			Expect(testutil.ToFloat64(col.LaunchRetries)).To(Equal(3.0))
			Expect(testutil.ToFloat64(col.Sessions.WithLabelValues("failed"))).To(Equal(1.0))
		})

		It("recovers when the transient failure clears", func() {
			eng := cavity.New(cavity.WithLaunchFailures(engine.Connectivity, 2))
			o, _ := build(eng, 1, fastConfig())

			out, err := o.Run(ctx, referenceSpec())
			Expect(err).NotTo(HaveOccurred())
			Expect(eng.Attempts()).To(Equal(3))
			Expect(out.Session.Retries).To(Equal(2))
		})

		It("does not retry a missing installation", func() {
			eng := cavity.New(cavity.WithInstalled(false))
			o, _ := build(eng, 1, fastConfig())

			_, err := o.Run(ctx, referenceSpec())
			var launchErr *orchestrator.EngineLaunchError
			Expect(errors.As(err, &launchErr)).To(BeTrue())
			Expect(launchErr.Transient).To(BeFalse())
			Expect(eng.Attempts()).To(Equal(1))
			Expect(engine.KindOf(err)).To(Equal(engine.NotInstalled))
		})

		It("fails fatally on an incompatible engine version and releases the seat", func() {
			eng := cavity.New(cavity.WithVersion("2.1.0"))
			o, pool := build(eng, 1, fastConfig())

			_, err := o.Run(ctx, referenceSpec())
			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Kind).To(Equal(engine.VersionIncompatible))
			Expect(runErr.Stage).To(Equal(orchestrator.Launching))
			Expect(eng.Attempts()).To(Equal(1))
			Expect(pool.InUse()).To(Equal(0))
			Expect(eng.SeatsInUse()).To(Equal(0))
		})
	})

	Describe("configure retries", func() {
		It("retries a dropped connection during Apply exactly MaxRetries times", func() {
			cav := cavity.New()
			eng := &flakyEngine{Engine: cav, applyFailures: 100}
			cfg := fastConfig()
			cfg.MaxRetries = 3
			o, pool := build(eng, 1, cfg)

			_, err := o.Run(ctx, referenceSpec())
			Expect(err).To(HaveOccurred())

			apply, configure := eng.calls()
			Expect(apply).To(Equal(3))
			Expect(configure).To(Equal(0))

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Configuring))
			Expect(runErr.Kind).To(Equal(engine.Connectivity))
			Expect(runErr.Retries).To(Equal(2))

			Expect(rec.states()).To(Equal([]orchestrator.State{
				orchestrator.Launching,
				orchestrator.Configuring,
				orchestrator.Failed,
			}))
			Expect(pool.InUse()).To(Equal(0))
			Expect(cav.SeatsInUse()).To(Equal(0))
		})

		It("recovers when Apply and Configure drop once each", func() {
			eng := &flakyEngine{Engine: cavity.New(), applyFailures: 1, configureFailures: 1}
			o, _ := build(eng, 1, fastConfig())

			out, err := o.Run(ctx, referenceSpec())
			Expect(err).NotTo(HaveOccurred())
			apply, configure := eng.calls()
			Expect(apply).To(Equal(2))
			Expect(configure).To(Equal(2))
			Expect(out.Session.Retries).To(Equal(2))
		})

		It("shares one retry budget between launch, apply and configure", func() {
			cav := cavity.New(cavity.WithLaunchFailures(engine.LicenseUnavailable, 2))
			eng := &flakyEngine{Engine: cav, applyFailures: 1, configureFailures: 100}
			cfg := fastConfig()
			cfg.MaxRetries = 5
			o, pool := build(eng, 1, cfg)

			_, err := o.Run(ctx, referenceSpec())
			Expect(err).To(HaveOccurred())

			// Two launch retries and one apply retry leave one for configure.
			Expect(cav.Attempts()).To(Equal(3))
			apply, configure := eng.calls()
			Expect(apply).To(Equal(2))
			Expect(configure).To(Equal(2))

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Configuring))
			Expect(runErr.Retries).To(Equal(cfg.MaxRetries - 1))
			Expect(pool.InUse()).To(Equal(0))
		})

		It("gives later calls a single attempt once launch spent the budget", func() {
			cav := cavity.New(cavity.WithLaunchFailures(engine.Connectivity, 2))
			eng := &flakyEngine{Engine: cav, applyFailures: 1}
			cfg := fastConfig()
			cfg.MaxRetries = 3
			o, _ := build(eng, 1, cfg)

			_, err := o.Run(ctx, referenceSpec())
			Expect(engine.KindOf(err)).To(Equal(engine.Connectivity))
			apply, _ := eng.calls()
			Expect(apply).To(Equal(1))
		})

		It("stops retrying when MaxRetryElapsed is shorter than the next backoff", func() {
			eng := &flakyEngine{Engine: cavity.New(), applyFailures: 100}
			cfg := fastConfig()
			cfg.InitialBackoff = 50 * time.Millisecond
			cfg.MaxBackoff = 50 * time.Millisecond
			cfg.MaxRetryElapsed = 10 * time.Millisecond
			o, _ := build(eng, 1, cfg)

			_, err := o.Run(ctx, referenceSpec())
			Expect(engine.KindOf(err)).To(Equal(engine.Connectivity))
			apply, _ := eng.calls()
			Expect(apply).To(Equal(1))
		})
	})

	Describe("geometry rejection", func() {
		It("fails without retrying when the region has no radiation boundary", func() {
			spec := referenceSpec()
			params, err := antenna.Synthesize(spec)
			Expect(err).NotTo(HaveOccurred())
			full, err := geometry.Build(params, geometry.WithLowestFrequency(orchestrator.DefaultSweepLowRatio*spec.FrequencyHz))
			Expect(err).NotTo(HaveOccurred())

			var seq geometry.Sequence
			for _, c := range full {
				if c.Kind == geometry.KindAssignBoundary && c.Boundary.Type == geometry.BoundaryRadiation {
					continue
				}
				seq = append(seq, c)
			}
			Expect(seq).To(HaveLen(len(full) - 1))

			eng := &flakyEngine{Engine: cavity.New()}
			o, pool := build(eng, 1, fastConfig())
			_, err = o.Execute(ctx, params, seq)

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Kind).To(Equal(engine.GeometryRejected))
			Expect(runErr.Stage).To(Equal(orchestrator.Configuring))
			Expect(runErr.Retries).To(Equal(0))
			apply, configure := eng.calls()
			Expect(apply).To(Equal(1))
			Expect(configure).To(Equal(0))
			Expect(pool.InUse()).To(Equal(0))
		})
	})

	Describe("solve failures", func() {
		It("surfaces non-convergence without retrying", func() {
			eng := cavity.New(cavity.WithConvergenceRate(0.95))
			o, pool := build(eng, 1, fastConfig())

			_, err := o.Run(ctx, referenceSpec())
			var solveErr *orchestrator.SolveError
			Expect(errors.As(err, &solveErr)).To(BeTrue())
			Expect(solveErr.Kind).To(Equal(engine.SolveNonConvergent))

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Solving))
			Expect(eng.Attempts()).To(Equal(1))
			Expect(pool.InUse()).To(Equal(0))
		})

		It("fails in Extracting when the sink cannot persist", func() {
			sink := &memorySink{err: errors.New("disk full")}
			o, pool := build(cavity.New(), 1, fastConfig(), orchestrator.WithSink(sink))

			_, err := o.Run(ctx, referenceSpec())
			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Extracting))
			Expect(pool.InUse()).To(Equal(0))
		})
	})

	Describe("cancellation", func() {
		It("aborts the solve, fails, and frees the seat for the next acquisition", func() {
			eng := cavity.New(cavity.WithPassDuration(100*time.Millisecond), cavity.WithSeats(1))
			o, pool := build(eng, 1, fastConfig())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				_, err := o.Run(runCtx, referenceSpec())
				done <- err
			}()

			Eventually(rec.states).Should(ContainElement(orchestrator.Solving))
			cancel()

			var err error
			Eventually(done, 2*time.Second).Should(Receive(&err))
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())

			var runErr *orchestrator.RunError
			Expect(errors.As(err, &runErr)).To(BeTrue())
			Expect(runErr.Stage).To(Equal(orchestrator.Solving))
			Expect(runErr.Kind).To(Equal(engine.Aborted))
			Expect(rec.states()).To(HaveExactElements(
				orchestrator.Launching,
				orchestrator.Configuring,
				orchestrator.Solving,
				orchestrator.Failed,
			))

			Expect(pool.InUse()).To(Equal(0))
			Expect(eng.SeatsInUse()).To(Equal(0))
			lease, err := pool.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(lease.Release()).To(Succeed())
		})
	})
})

var _ = Describe("State machine", func() {
	DescribeTable("transitions",
		func(from, to orchestrator.State, ok bool) {
			Expect(orchestrator.CanTransition(from, to)).To(Equal(ok))
		},
		Entry("idle to launching", orchestrator.Idle, orchestrator.Launching, true),
		Entry("launching to configuring", orchestrator.Launching, orchestrator.Configuring, true),
		Entry("configuring to solving", orchestrator.Configuring, orchestrator.Solving, true),
		Entry("solving to extracting", orchestrator.Solving, orchestrator.Extracting, true),
		Entry("extracting to closed", orchestrator.Extracting, orchestrator.Closed, true),
		Entry("any live state to failed", orchestrator.Solving, orchestrator.Failed, true),
		Entry("idle to failed", orchestrator.Idle, orchestrator.Failed, true),
		Entry("skipping a stage", orchestrator.Launching, orchestrator.Solving, false),
		Entry("backwards", orchestrator.Solving, orchestrator.Configuring, false),
		Entry("out of closed", orchestrator.Closed, orchestrator.Failed, false),
		Entry("out of failed", orchestrator.Failed, orchestrator.Launching, false),
	)

	It("rejects a configuration with no attempts", func() {
		cfg := orchestrator.DefaultConfig()
		cfg.MaxRetries = 0
		_, err := orchestrator.New(session.NewPool(cavity.New(), 1), cfg)
		Expect(errors.Is(err, orchestrator.ErrInvalidConfig)).To(BeTrue())
	})
})
