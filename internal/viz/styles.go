package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/patchsim/internal/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ffff"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888899")).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ccff")).Bold(true)
	subtle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666688"))
	keyHint    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666688")).Italic(true)
	panel      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444466")).Padding(0, 1)

	doneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff88"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffcc00"))
	failedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff4444"))
	pendingStyle = subtle
)

// StateStyle colours a state for display.
func StateStyle(s orchestrator.State) lipgloss.Style {
	switch s {
	case orchestrator.Closed:
		return doneStyle
	case orchestrator.Failed:
		return failedStyle
	case orchestrator.Idle:
		return pendingStyle
	}
	return activeStyle
}

// Spinner returns one frame of a braille spinner.
func Spinner(frame int) string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[frame%len(frames)]
}

// Sparkline renders values as a one-line bar chart, sampling down to width.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return strings.Repeat("─", max(width, 0))
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	rng := hi - lo
	if rng == 0 {
		rng = 1
	}

	var b strings.Builder
	for _, v := range downsample(values, width) {
		idx := int((v - lo) / rng * float64(len(chars)-1))
		idx = max(0, min(idx, len(chars)-1))
		b.WriteRune(chars[idx])
	}
	return b.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}
