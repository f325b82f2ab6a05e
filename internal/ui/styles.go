package ui

import "github.com/charmbracelet/lipgloss"

// Palette (256-color codes).
const (
	ColorAccent    = "154"
	ColorAccentDim = "106"
	ColorWhite     = "255"
	ColorGray      = "245"
	ColorDarkGray  = "238"
	ColorRed       = "196"
	ColorYellow    = "220"
)

// Styles holds the lipgloss styles used by the renderers.
type Styles struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Dim    lipgloss.Style
	Idle   lipgloss.Style
	Active lipgloss.Style
	Error  lipgloss.Style
	Warn   lipgloss.Style
	Panel  lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Value:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorWhite)),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Idle:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentDim)),
		Active: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorRed)),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
	}
}

// NoColorStyles returns unstyled components.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Label: plain, Value: plain, Dim: plain,
		Idle: plain, Active: plain, Error: plain, Warn: plain,
		Panel: plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// Phase renders a kernel phase name in its color.
func (s Styles) Phase(phase string) string {
	switch phase {
	case "running":
		return s.Active.Render(phase)
	case "error":
		return s.Error.Render(phase)
	default:
		return s.Idle.Render(phase)
	}
}
