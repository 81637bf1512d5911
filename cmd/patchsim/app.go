package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/patchsim/internal/config"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/engine/bridge"
	"github.com/san-kum/patchsim/internal/engine/cavity"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/observability"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/session"
	"github.com/san-kum/patchsim/internal/storage"
)

func newRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register(cavity.Name, cavity.Factory)
	reg.Register(bridge.Name, bridge.Factory)
	return reg
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(logging.ConfigFromEnv(cfg.LoggerConfig()))
}

// app holds everything one command invocation shares: the engine pool,
// run catalogue, metrics and tracing.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	pool    *session.Pool
	store   *storage.Store
	metrics *observability.Collector

	shutdownTracing func(context.Context) error
	metricsServer   *http.Server
}

type appOptions struct {
	seats       int
	metricsAddr string
	noStore     bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg)}

	eng, err := newRegistry().Get(cfg.Engine.Name, cfg.EngineOptions())
	if err != nil {
		return nil, err
	}
	if b, ok := eng.(*bridge.Engine); ok {
		b.Logger = a.logger
	}
	seats := cfg.Engine.Seats
	if opts.seats > 0 {
		seats = opts.seats
	}
	a.pool = session.NewPool(eng, seats)

	if !opts.noStore && cfg.Output.Save {
		a.store = storage.New(cfg.Output.Dir)
		if err := a.store.Init(); err != nil {
			return nil, fmt.Errorf("init data dir: %w", err)
		}
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), a.logger)
	if err != nil {
		return nil, err
	}
	a.shutdownTracing = shutdown

	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		if a.metrics, err = observability.NewCollector(reg); err != nil {
			return nil, err
		}
		if err := a.serveMetrics(ctx, opts.metricsAddr); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "metrics server stopped", logging.Err(err))
		}
	}()
	a.logger.Info(ctx, "serving metrics", logging.String("addr", ln.Addr().String()))
	return nil
}

// orchestrator builds an orchestrator over the shared pool. Extra options
// are appended after the defaults.
func (a *app) orchestrator(extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithTracer(observability.Tracer()),
	}
	if a.metrics != nil {
		opts = append(opts, orchestrator.WithMetrics(a.metrics))
	}
	if a.store != nil {
		opts = append(opts, orchestrator.WithSink(a.store))
	}
	return orchestrator.New(a.pool, a.cfg.Orchestrator(), append(opts, extra...)...)
}

func (a *app) Close() {
	ctx := context.Background()
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn(ctx, "pool close failed", logging.Err(err))
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.metricsServer != nil {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = a.metricsServer.Shutdown(sctx)
		cancel()
	}
	observability.ShutdownWithTimeout(ctx, a.shutdownTracing, a.logger)
}

func stdoutIsTerminal() bool {
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
