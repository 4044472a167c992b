package report

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette colours. ANSI 256 codes so they render on most terminals.
var (
	colorSuccess = lipgloss.Color("42")
	colorFailure = lipgloss.Color("196")
	colorWarning = lipgloss.Color("214")
	colorActive  = lipgloss.Color("39")
	colorMuted   = lipgloss.Color("245")
)

// Styles renders status badges. The zero value renders plain text.
type Styles struct {
	color bool

	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	active  lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

// NewStyles creates badge styles. With color false every badge is plain text.
func NewStyles(color bool) Styles {
	return Styles{
		color:   color,
		success: lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
		failure: lipgloss.NewStyle().Bold(true).Foreground(colorFailure),
		warning: lipgloss.NewStyle().Foreground(colorWarning),
		active:  lipgloss.NewStyle().Foreground(colorActive),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		heading: lipgloss.NewStyle().Bold(true).Foreground(colorActive),
	}
}

func (s Styles) render(style lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return style.Render(text)
}

// Status renders a plan, result, job or test case status as a badge.
func (s Styles) Status(status string) string {
	switch status {
	case "SUCCESS", "PASSED", "COMPLETED", "SUCCEEDED":
		return s.render(s.success, "✔ "+status)
	case "FAILURE", "FAILED":
		return s.render(s.failure, "✘ "+status)
	case "EXECUTING", "RUNNING":
		return s.render(s.active, "● "+status)
	case "PENDING", "AWAITING_SELECTION":
		return s.render(s.warning, "○ "+status)
	case "":
		return s.Muted("-")
	default:
		return status
	}
}

// Muted renders secondary text.
func (s Styles) Muted(text string) string {
	return s.render(s.muted, text)
}

// Heading renders a section heading.
func (s Styles) Heading(text string) string {
	return s.render(s.heading, text)
}

// Warning renders a warning.
func (s Styles) Warning(text string) string {
	return s.render(s.warning, text)
}
