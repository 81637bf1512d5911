// Package orchestrator runs the synthesize, build, launch, configure, solve,
// extract and persist pipeline against an engine session pool, supervising
// retries, cancellation and teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/observability"
	"github.com/san-kum/patchsim/internal/results"
	"github.com/san-kum/patchsim/internal/session"
)

// Sink persists a finished outcome and returns its run identifier.
type Sink interface {
	Save(ctx context.Context, out *Outcome) (string, error)
}

// Outcome is everything a successful run produced.
type Outcome struct {
	Spec           antenna.DesignSpec
	Parameters     antenna.GeometricParameters
	Commands       geometry.Sequence
	GeometryDigest string
	Record         *results.Record
	Merit          results.Merit
	Session        Summary
	RunID          string
}

type Orchestrator struct {
	pool       *session.Pool
	cfg        Config
	constraint *semver.Constraints
	logger     logging.Logger
	metrics    *observability.Collector
	tracer     trace.Tracer
	observers  []Observer
	sink       Sink
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(c *observability.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New validates cfg and builds an orchestrator over pool. Without an
// explicit logger, cfg.Verbose selects debug or info level on stderr.
func New(pool *session.Pool, cfg Config, opts ...Option) (*Orchestrator, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil session pool", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{pool: pool, cfg: cfg, now: time.Now}
	if cfg.VersionConstraint != "" {
		c, err := semver.NewConstraint(cfg.VersionConstraint)
		if err != nil {
			return nil, fmt.Errorf("%w: version constraint: %v", ErrInvalidConfig, err)
		}
		o.constraint = c
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		level := "info"
		if cfg.Verbose {
			level = "debug"
		}
		o.logger = logging.New(logging.Config{Level: level, Output: os.Stderr})
	}
	if o.tracer == nil {
		o.tracer = observability.Tracer()
	}
	return o, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

// Run synthesizes dimensions for spec, builds the geometry and executes it.
func (o *Orchestrator) Run(ctx context.Context, spec antenna.DesignSpec) (*Outcome, error) {
	params, err := antenna.Synthesize(spec)
	if err != nil {
		return nil, err
	}
	_, sweep, _, err := o.cfg.resolve(spec.FrequencyHz)
	if err != nil {
		return nil, err
	}
	seq, err := geometry.Build(params, geometry.WithLowestFrequency(sweep.StartHz))
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, params, seq)
}

// Execute drives one session through the state machine. The lease is
// released on every path, including cancellation and panics in observers.
func (o *Orchestrator) Execute(ctx context.Context, params antenna.GeometricParameters, seq geometry.Sequence) (out *Outcome, err error) {
	spec := params.Spec
	setup, sweep, ffHz, err := o.cfg.resolve(spec.FrequencyHz)
	if err != nil {
		return nil, err
	}
	digest, err := geometry.Digest(seq)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        uuid.New(),
		State:     Idle,
		SetupName: setup.Name,
		Sweep:     sweep,
		StartedAt: o.now(),
	}
	log := o.logger.With(logging.String("session", sess.ID.String()))

	ctx, span := o.tracer.Start(ctx, "session", trace.WithAttributes(
		attribute.String("session.id", sess.ID.String()),
		attribute.Float64("design.frequency_hz", spec.FrequencyHz),
	))
	defer span.End()

	o.metrics.SessionStarted()
	defer func() {
		if sess.lease != nil && !sess.lease.Released() {
			if rerr := sess.lease.Release(); rerr != nil {
				log.Warn(ctx, "session release failed", logging.Err(rerr))
			}
		}
		sess.FinishedAt = o.now()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.metrics.SessionFinished("failed")
		} else {
			o.metrics.SessionFinished("closed")
		}
	}()

	fail := func(kind engine.Kind, cause error) error {
		stage := sess.State
		rerr := &RunError{
			SessionID: sess.ID,
			Stage:     stage,
			Kind:      kind,
			Retries:   sess.Retries,
			Spec:      spec,
			Err:       cause,
		}
		if sess.lease != nil && !sess.lease.Released() {
			if e := sess.lease.Release(); e != nil {
				log.Warn(ctx, "session release failed", logging.Err(e))
			}
		}
		o.transition(ctx, log, sess, Failed, rerr)
		log.Error(ctx, "session failed",
			logging.String("stage", stage.String()),
			logging.String("kind", kind.String()),
			logging.Int("retries", sess.Retries),
			logging.Err(cause),
		)
		return rerr
	}

	// Launching
	o.transition(ctx, log, sess, Launching, nil)
	lease, err := o.launch(ctx, log, sess)
	if err != nil {
		return nil, fail(engine.KindOf(err), err)
	}
	sess.lease = lease
	h := lease.Handle()
	sess.EngineVersion = h.Version()
	if err := o.checkVersion(sess.EngineVersion); err != nil {
		return nil, fail(engine.VersionIncompatible, &EngineLaunchError{Transient: false, Attempts: sess.Retries + 1, Err: err})
	}

	// Configuring
	o.transition(ctx, log, sess, Configuring, nil)
	if err := o.stage(ctx, "configure", func(ctx context.Context) error {
		if err := o.retry(ctx, log, sess, "apply", func() error { return h.Apply(ctx, seq) }); err != nil {
			return err
		}
		return o.retry(ctx, log, sess, "configure", func() error { return h.Configure(ctx, setup, sweep) })
	}); err != nil {
		return nil, fail(engine.KindOf(err), err)
	}

	// Solving
	o.transition(ctx, log, sess, Solving, nil)
	start := o.now()
	err = o.stage(ctx, "solve", func(ctx context.Context) error { return h.Solve(ctx) })
	o.metrics.ObserveSolve(o.now().Sub(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			if aerr := h.Abort(); aerr != nil {
				log.Warn(ctx, "abort failed", logging.Err(aerr))
			}
			if !errors.Is(err, ctx.Err()) {
				err = errors.Join(err, ctx.Err())
			}
		}
		kind := engine.KindOf(err)
		if kind == engine.KindUnknown && ctx.Err() != nil {
			kind = engine.Aborted
		}
		return nil, fail(kind, &SolveError{Kind: kind, Err: err})
	}

	// Extracting
	o.transition(ctx, log, sess, Extracting, nil)
	opts := []results.Option{results.WithSpec(spec), results.WithEngineName(o.engineName())}
	if o.cfg.Grid != nil {
		opts = append(opts, results.WithFarField(ffHz, *o.cfg.Grid))
	}
	var rec *results.Record
	if err := o.stage(ctx, "extract", func(ctx context.Context) error {
		var xerr error
		rec, xerr = results.Extract(ctx, h, setup.Name, sweep.Name, opts...)
		return xerr
	}); err != nil {
		return nil, fail(engine.KindOf(err), err)
	}

	out = &Outcome{
		Spec:           spec,
		Parameters:     params,
		Commands:       seq,
		GeometryDigest: digest,
		Record:         rec,
		Merit:          results.Evaluate(rec, spec.FrequencyHz),
	}
	if rerr := sess.lease.Release(); rerr != nil {
		log.Warn(ctx, "session release failed", logging.Err(rerr))
	}
	sess.FinishedAt = o.now()
	out.Session = sess.Summary()

	if o.sink != nil {
		if err := o.stage(ctx, "persist", func(ctx context.Context) error {
			id, serr := o.sink.Save(ctx, out)
			out.RunID = id
			return serr
		}); err != nil {
			return nil, fail(engine.KindUnknown, err)
		}
	}

	o.transition(ctx, log, sess, Closed, nil)
	out.Session = sess.Summary()
	log.Info(ctx, "session closed",
		logging.Float("resonance_hz", out.Merit.ResonanceHz),
		logging.Float("min_s11_db", out.Merit.MinS11DB),
		logging.String("run_id", out.RunID),
	)
	return out, nil
}

func (o *Orchestrator) engineName() string {
	if o.cfg.EngineName != "" {
		return o.cfg.EngineName
	}
	return o.pool.Engine().Name()
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, log logging.Logger, sess *Session, to State, cause error) {
	from := sess.State
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("%v: %s -> %s", ErrIllegalTransition, from, to))
	}
	sess.State = to
	ev := Event{SessionID: sess.ID, From: from, To: to, At: o.now(), Err: cause}
	sess.History = append(sess.History, ev)
	o.metrics.Transition(from.String(), to.String())

	fields := []logging.Field{logging.String("from", from.String()), logging.String("to", to.String())}
	if o.cfg.Verbose {
		log.Info(ctx, "state transition", fields...)
	} else {
		log.Debug(ctx, "state transition", fields...)
	}
	for _, obs := range o.observers {
		obs.OnTransition(ev)
	}
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if o.cfg.InitialBackoff > 0 {
		b.InitialInterval = o.cfg.InitialBackoff
	}
	if o.cfg.MaxBackoff > 0 {
		b.MaxInterval = o.cfg.MaxBackoff
	}
	if o.cfg.BackoffMultiplier >= 1 {
		b.Multiplier = o.cfg.BackoffMultiplier
	}
	return b
}

// launch acquires a session, retrying transient failures while the session
// retry budget lasts.
func (o *Orchestrator) launch(ctx context.Context, log logging.Logger, sess *Session) (*session.Lease, error) {
	ctx, span := o.tracer.Start(ctx, "launch")
	defer span.End()

	attempts := 0
	lease, err := backoff.Retry(ctx, func() (*session.Lease, error) {
		attempts++
		l, err := o.pool.Acquire(ctx)
		if err == nil {
			return l, nil
		}
		if engine.IsTransient(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		o.retryOptions(sess, func(err error, next time.Duration) {
			sess.Retries++
			o.metrics.LaunchRetried()
			log.Warn(ctx, "launch retry",
				logging.Int("attempt", attempts),
				logging.Duration("backoff", next),
				logging.Err(err),
			)
		})...,
	)
	span.SetAttributes(attribute.Int("launch.attempts", attempts))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if ctx.Err() != nil && engine.KindOf(err) == engine.KindUnknown {
			err = &engine.Error{Kind: engine.Aborted, Op: "open", Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &EngineLaunchError{Transient: engine.IsTransient(err), Attempts: attempts, Err: err}
	}
	return lease, nil
}

// retry repeats fn while it fails transiently. Only idempotent engine calls
// go through here.
func (o *Orchestrator) retry(ctx context.Context, log logging.Logger, sess *Session, op string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err == nil || engine.IsTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		o.retryOptions(sess, func(err error, next time.Duration) {
			sess.Retries++
			log.Warn(ctx, "engine call retry",
				logging.String("op", op),
				logging.Int("budget_left", o.retriesLeft(sess)),
				logging.Duration("backoff", next),
				logging.Err(err),
			)
		})...,
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return err
}

// retriesLeft is what remains of the session's shared retry budget.
func (o *Orchestrator) retriesLeft(sess *Session) int {
	return max(o.cfg.MaxRetries-1-sess.Retries, 0)
}

// retryOptions bounds one retried call by the remaining session budget.
// MaxRetryElapsed replaces the library's 15 minute default cap.
func (o *Orchestrator) retryOptions(sess *Session, notify backoff.Notify) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(o.newBackOff()),
		backoff.WithMaxTries(uint(o.retriesLeft(sess) + 1)),
		backoff.WithMaxElapsedTime(o.cfg.MaxRetryElapsed),
		backoff.WithNotify(notify),
	}
}

func (o *Orchestrator) checkVersion(v string) error {
	if o.constraint == nil {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return engine.Errorf(engine.VersionIncompatible, "version", "unparseable engine version %q: %v", v, err)
	}
	if !o.constraint.Check(ver) {
		return engine.Errorf(engine.VersionIncompatible, "version", "engine %s does not satisfy %s", ver, o.constraint)
	}
	return nil
}
