// Package tui renders feed progress and run reports for the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pipefeed/internal/feed"
)

// Theme centralizes all styling so the live view and the reports agree.
type Theme struct {
	OutcomeOK      lipgloss.Style
	OutcomePartial lipgloss.Style
	OutcomeFailed  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		OutcomeOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		OutcomePartial: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		OutcomeFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// Outcome returns the style for an outcome.
func (t Theme) Outcome(o feed.Outcome) lipgloss.Style {
	switch o {
	case feed.OutcomeSuccess:
		return t.OutcomeOK
	case feed.OutcomePartialTimeout, feed.OutcomeProcessDied, feed.OutcomeCanceled:
		return t.OutcomePartial
	default:
		return t.OutcomeFailed
	}
}
