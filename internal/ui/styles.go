package ui

import (
	"github.com/charmbracelet/lipgloss"

	"dvtrack/internal/progress"
)

type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Header   lipgloss.Style
	Resource lipgloss.Style
	Info     lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Faint    lipgloss.Style
	Box      lipgloss.Style
	Focused  lipgloss.Style
	Spinner  lipgloss.Style
	Phase    lipgloss.Style
}

func defaultStyles() Styles {
	base := lipgloss.NewStyle()
	box := base.Padding(0, 1).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#3F3F46"))
	return Styles{
		Title:    base.Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Subtitle: base.Faint(true),
		Header:   base.Bold(true),
		Resource: base.Foreground(lipgloss.Color("#A3A3A3")),
		Info:     base.Foreground(lipgloss.Color("#D1D5DB")),
		Success:  base.Foreground(lipgloss.Color("#22C55E")),
		Error:    base.Foreground(lipgloss.Color("#EF4444")),
		Warning:  base.Foreground(lipgloss.Color("#F59E0B")),
		Faint:    base.Faint(true),
		Box:      box,
		Focused:  box.BorderForeground(lipgloss.Color("#7D56F4")),
		Spinner:  base.Foreground(lipgloss.Color("#22D3EE")),
		Phase:    base.Foreground(lipgloss.Color("#60A5FA")),
	}
}

// lifecycleStyle picks the color of the status label.
func (s Styles) lifecycleStyle(l progress.Lifecycle) lipgloss.Style {
	switch l {
	case progress.LifecycleSuccess:
		return s.Success
	case progress.LifecycleError:
		return s.Error
	case progress.LifecycleStopped:
		return s.Warning
	case progress.LifecycleSubmitting, progress.LifecycleRunning:
		return s.Phase
	default:
		return s.Faint
	}
}
