package viz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/results"
)

func TestCanvasLine(t *testing.T) {
	c := NewCanvas(4, 2)
	c.DrawLine(0, 0, 7, 0)
	out := c.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected 2 rows, got %q", out)
	}
	if []rune(out)[0] == blank {
		t.Error("first cell should be lit")
	}
	c.Set(-1, 100)
}

func TestLayout(t *testing.T) {
	spec, err := antenna.NewDesignSpec(2.4e9, 4.4, 1.6, 50)
	if err != nil {
		t.Fatal(err)
	}
	p, err := antenna.Synthesize(spec)
	if err != nil {
		t.Fatal(err)
	}
	out := Layout(p, 40, 16)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 16 {
		t.Fatalf("expected 16 rows, got %d", len(lines))
	}
	lit := 0
	for _, r := range out {
		if r > blank && r <= blank+0xff {
			lit++
		}
	}
	if lit < 20 {
		t.Errorf("layout looks empty: %d lit cells", lit)
	}
}

func TestDownsample(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	got := downsample(xs, 3)
	if len(got) != 3 || got[0] != 0 || got[2] != 10 {
		t.Errorf("unexpected downsample: %v", got)
	}
	if len(downsample(xs, 50)) != len(xs) {
		t.Error("short input should be returned unchanged")
	}
}

func TestSparkline(t *testing.T) {
	s := Sparkline([]float64{0, 1, 2, 3}, 4)
	if []rune(s)[0] != '▁' || []rune(s)[3] != '█' {
		t.Errorf("unexpected sparkline %q", s)
	}
	if Sparkline(nil, 5) != "─────" {
		t.Error("empty sparkline should be a rule")
	}
}

func record() *results.Record {
	r := &results.Record{Ports: 1, ReferenceZ0: 50, FarFieldHz: 2.4e9}
	for i := 0; i < 101; i++ {
		f := 2e9 + float64(i)*8e6
		x := (f - 2.4e9) / 1e8
		db := -20 / (1 + x*x)
		r.Frequencies = append(r.Frequencies, f)
		r.S11DB = append(r.S11DB, db)
		r.VSWR = append(r.VSWR, results.VSWR(results.MagnitudeFromDB(db)))
		r.S = append(r.S, []engine.Complex{{Re: results.MagnitudeFromDB(db)}})
	}
	for _, phi := range []float64{0, 90} {
		for th := -90.0; th <= 90; th += 10 {
			r.Pattern = append(r.Pattern, engine.PatternSample{ThetaDeg: th, PhiDeg: phi, GainDBi: 6 - th*th/1000})
		}
	}
	return r
}

func TestPlots(t *testing.T) {
	r := record()
	if out := S11Plot(r, PlotOptions{Width: 40, Height: 8}); !strings.Contains(out, "S11 (dB)") {
		t.Errorf("missing caption:\n%s", out)
	}
	if out := VSWRPlot(r, 5, PlotOptions{}); !strings.Contains(out, "VSWR") {
		t.Errorf("missing caption:\n%s", out)
	}
	if out := PatternPlot(r, PlotOptions{Width: 40}); !strings.Contains(out, "φ=90°") {
		t.Errorf("missing cut label:\n%s", out)
	}
	if out := ImpedancePlot(r, 200, PlotOptions{Width: 40}); !strings.Contains(out, "|Zin|") {
		t.Errorf("missing impedance caption:\n%s", out)
	}
	if S11Plot(&results.Record{}, PlotOptions{}) != "no data" {
		t.Error("empty record should say so")
	}
	if ImpedancePlot(&results.Record{}, 0, PlotOptions{}) != "no data" {
		t.Error("empty record should say so")
	}

	table := MeritTable(results.Evaluate(r, 2.4e9))
	for _, want := range []string{"resonance", "bandwidth", "peak gain", "Zin at resonance"} {
		if !strings.Contains(table, want) {
			t.Errorf("merit table missing %q:\n%s", want, table)
		}
	}
}

func TestMonitorModel(t *testing.T) {
	events := make(chan orchestrator.Event, 8)
	cancelled := false
	start := time.Unix(0, 0)
	m := newMonitorModel("run", events, func() { cancelled = true }, start)

	var model tea.Model = m
	model, _ = model.Update(eventMsg{From: orchestrator.Idle, To: orchestrator.Launching})
	model, _ = model.Update(eventMsg{From: orchestrator.Launching, To: orchestrator.Configuring})
	view := model.View()
	if !strings.Contains(view, "Launching") || !strings.Contains(view, "q: cancel run") {
		t.Errorf("unexpected view:\n%s", view)
	}

	model, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled {
		t.Error("q should cancel the run")
	}
	if cmd != nil {
		t.Error("first q should keep the view open")
	}
	if !strings.Contains(model.View(), "cancelling") {
		t.Error("view should show cancellation")
	}

	events <- orchestrator.Event{From: orchestrator.Configuring, To: orchestrator.Failed, Err: context.Canceled}
	model, cmd = model.Update(doneMsg{err: context.Canceled})
	if cmd == nil {
		t.Fatal("done should quit")
	}
	mm := model.(monitorModel)
	if mm.current != orchestrator.Failed || !mm.done {
		t.Errorf("pending events should be drained before quitting, state %v", mm.current)
	}
	if !strings.Contains(mm.View(), "context canceled") {
		t.Errorf("failure cause missing:\n%s", mm.View())
	}
}

func TestMonitorObserverNeverBlocks(t *testing.T) {
	m := NewMonitor("run")
	for i := 0; i < 100; i++ {
		m.OnTransition(orchestrator.Event{To: orchestrator.Launching})
	}
	if m.Dropped() != 36 {
		t.Errorf("expected 36 dropped, got %d", m.Dropped())
	}
}

func TestMonitorRunReturnsWorkError(t *testing.T) {
	m := NewMonitor("run")
	boom := errors.New("boom")
	err := m.Run(context.Background(), func(ctx context.Context) error {
		m.OnTransition(orchestrator.Event{From: orchestrator.Idle, To: orchestrator.Launching})
		m.OnTransition(orchestrator.Event{From: orchestrator.Launching, To: orchestrator.Failed, Err: boom})
		return boom
	}, tea.WithInput(nil), tea.WithOutput(&strings.Builder{}), tea.WithoutRenderer())
	if !errors.Is(err, boom) {
		t.Errorf("expected work error, got %v", err)
	}
}

func TestSVG(t *testing.T) {
	spec, _ := antenna.NewDesignSpec(2.4e9, 4.4, 1.6, 50)
	p, err := antenna.Synthesize(spec)
	if err != nil {
		t.Fatal(err)
	}
	out := LayoutSVG(p, 4)
	if strings.Count(out, "<rect") != 4 || !strings.HasSuffix(out, "</svg>\n") {
		t.Errorf("unexpected layout svg:\n%s", out)
	}

	curve := S11SVG(record(), 400, 200)
	if !strings.Contains(curve, `d="M0.0,`) || strings.Count(curve, " L") != 100 {
		t.Errorf("unexpected curve svg:\n%s", curve)
	}
	if CurveSVG([]float64{1}, []float64{1}, 10, 10, "#fff") != "" {
		t.Error("single point should not plot")
	}
}
