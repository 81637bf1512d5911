// Package observability exposes Prometheus metrics and OpenTelemetry tracing
// for orchestration runs.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the orchestration metrics. All methods are safe on a
// nil receiver so callers can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Sessions      *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	LaunchRetries prometheus.Counter
	SolveDuration prometheus.Histogram
	Active        prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry returns
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sessions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchsim_sessions_total",
		Help: "Orchestration sessions finished, labeled by outcome (closed or failed).",
	}, []string{"outcome"}), "patchsim_sessions_total")
	if err != nil {
		return nil, err
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patchsim_state_transitions_total",
		Help: "Session state machine transitions.",
	}, []string{"from", "to"}), "patchsim_state_transitions_total")
	if err != nil {
		return nil, err
	}

	retries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchsim_launch_retries_total",
		Help: "Engine launch attempts retried after a transient failure.",
	}), "patchsim_launch_retries_total")
	if err != nil {
		return nil, err
	}

	solve, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchsim_solve_duration_seconds",
		Help:    "Wall-clock time of engine solves.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}), "patchsim_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patchsim_sessions_active",
		Help: "Sessions currently between launch and teardown.",
	}), "patchsim_sessions_active")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		Sessions:      sessions,
		Transitions:   transitions,
		LaunchRetries: retries,
		SolveDuration: solve,
		Active:        active,
	}, nil
}

func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.Active.Inc()
}

// SessionFinished records a terminal outcome and decrements the active gauge.
func (c *Collector) SessionFinished(outcome string) {
	if c == nil {
		return
	}
	c.Active.Dec()
	c.Sessions.WithLabelValues(outcome).Inc()
}

func (c *Collector) LaunchRetried() {
	if c == nil {
		return
	}
	c.LaunchRetries.Inc()
}

func (c *Collector) ObserveSolve(seconds float64) {
	if c == nil {
		return
	}
	c.SolveDuration.Observe(seconds)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
