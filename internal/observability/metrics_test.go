package observability

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.SessionStarted()
	c.Transition("Idle", "Launching")
	c.Transition("Idle", "Launching")
	c.LaunchRetried()
	c.ObserveSolve(0.5)
	c.SessionFinished("closed")

	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("Idle", "Launching")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Sessions.WithLabelValues("closed")); got != 1 {
		t.Errorf("sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Active); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.LaunchRetries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.SolveDuration); n != 1 {
		t.Errorf("solve histogram series = %d", n)
	}
}

func TestCollectorReRegisterReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	a.LaunchRetried()
	if got := testutil.ToFloat64(b.LaunchRetries); got != 1 {
		t.Errorf("collectors not shared: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.SessionStarted()
	c.Transition("a", "b")
	c.SessionFinished("failed")
	c.LaunchRetried()
	c.ObserveSolve(1)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.Transition("Solving", "Extracting")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `patchsim_state_transitions_total{from="Solving",to="Extracting"} 1`) {
		t.Errorf("metrics output missing transition:\n%s", body)
	}
}

func TestInitTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, span := Tracer().Start(context.Background(), "solve")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), `"Name":"solve"`) {
		t.Errorf("span not exported: %s", buf.String())
	}

	disabled, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ShutdownWithTimeout(context.Background(), disabled, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error")
	}
}
