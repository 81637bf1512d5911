package viz

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/patchsim/internal/orchestrator"
)

var pipeline = []orchestrator.State{
	orchestrator.Launching,
	orchestrator.Configuring,
	orchestrator.Solving,
	orchestrator.Extracting,
	orchestrator.Closed,
}

type (
	eventMsg orchestrator.Event
	doneMsg  struct{ err error }
	tickMsg  time.Time
)

// Monitor is an orchestrator.Observer that shows run progress in a
// full-screen terminal view. OnTransition never blocks; events beyond the
// buffer are counted and dropped.
type Monitor struct {
	title   string
	events  chan orchestrator.Event
	dropped atomic.Int64
}

func NewMonitor(title string) *Monitor {
	return &Monitor{title: title, events: make(chan orchestrator.Event, 64)}
}

func (m *Monitor) OnTransition(e orchestrator.Event) {
	select {
	case m.events <- e:
	default:
		m.dropped.Add(1)
	}
}

// Dropped is the number of events lost to a full buffer.
func (m *Monitor) Dropped() int64 { return m.dropped.Load() }

// Run shows the monitor while work runs. Pressing q cancels work's context
// and keeps the view open until teardown finishes; a second q leaves
// immediately. Run returns work's error.
func (m *Monitor) Run(ctx context.Context, work func(ctx context.Context) error, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newMonitorModel(m.title, m.events, cancel, time.Now())
	p := tea.NewProgram(model, opts...)

	finished := make(chan error, 1)
	go func() {
		err := work(ctx)
		finished <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return fmt.Errorf("monitor: %w", err)
	}
	cancel()
	return <-finished
}

type monitorModel struct {
	title     string
	events    <-chan orchestrator.Event
	cancel    context.CancelFunc
	history   []orchestrator.Event
	current   orchestrator.State
	started   time.Time
	now       time.Time
	frame     int
	done      bool
	err       error
	cancelled bool
}

func newMonitorModel(title string, events <-chan orchestrator.Event, cancel context.CancelFunc, start time.Time) monitorModel {
	return monitorModel{title: title, events: events, cancel: cancel, started: start, now: start}
}

func waitEvent(ch <-chan orchestrator.Event) tea.Cmd {
	return func() tea.Msg { return eventMsg(<-ch) }
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), tick())
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.record(orchestrator.Event(msg))
		if m.done {
			return m, nil
		}
		return m, waitEvent(m.events)

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick()

	case doneMsg:
		for drained := false; !drained; {
			select {
			case e := <-m.events:
				m.record(e)
			default:
				drained = true
			}
		}
		m.done, m.err = true, msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancelled || m.done {
				return m, tea.Quit
			}
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
		}
	}
	return m, nil
}

func (m *monitorModel) record(e orchestrator.Event) {
	m.history = append(m.history, e)
	m.current = e.To
}

// reached reports whether the run has passed through s.
func (m monitorModel) reached(s orchestrator.State) bool {
	for _, e := range m.history {
		if e.To == s {
			return true
		}
	}
	return false
}

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("  ")
	b.WriteString(subtle.Render(m.now.Sub(m.started).Truncate(100 * time.Millisecond).String()))
	b.WriteString("\n\n")

	for _, s := range pipeline {
		var mark string
		switch {
		case m.current == s && !s.Terminal():
			mark = activeStyle.Render(Spinner(m.frame))
		case m.reached(s):
			mark = doneStyle.Render("✓")
		default:
			mark = pendingStyle.Render("·")
		}
		b.WriteString(fmt.Sprintf(" %s %s\n", mark, StateStyle(s).Render(s.String())))
	}

	if m.current == orchestrator.Failed {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render("failed"))
		for i := len(m.history) - 1; i >= 0; i-- {
			if e := m.history[i]; e.Err != nil {
				b.WriteString(": " + e.Err.Error())
				break
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.done:
		b.WriteString(keyHint.Render("done"))
	case m.cancelled:
		b.WriteString(keyHint.Render("cancelling, waiting for engine teardown (q again to leave)"))
	default:
		b.WriteString(keyHint.Render("q: cancel run"))
	}
	b.WriteString("\n")
	return panel.Render(b.String())
}
