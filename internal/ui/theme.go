package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme selects the color palette
type Theme int

const (
	ThemeLight Theme = iota
	ThemeDark
)

// String returns the config name of the theme
func (t Theme) String() string {
	if t == ThemeDark {
		return "dark"
	}
	return "light"
}

// ParseTheme reads a theme name from configuration
func ParseTheme(name string) (Theme, error) {
	switch strings.ToLower(name) {
	case "", "light":
		return ThemeLight, nil
	case "dark":
		return ThemeDark, nil
	default:
		return ThemeLight, fmt.Errorf("unknown theme %q (must be light or dark)", name)
	}
}

// Next returns the other theme
func (t Theme) Next() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

type styles struct {
	box         lipgloss.Style
	button      lipgloss.Style
	buttonRec   lipgloss.Style
	status      lipgloss.Style
	recording   lipgloss.Style
	errorText   lipgloss.Style
	placeholder lipgloss.Style
}

func newStyles(t Theme) styles {
	fg, bg, border, muted := lipgloss.Color("#1f1f1f"), lipgloss.Color("#f5f5f5"), lipgloss.Color("#8a8a8a"), lipgloss.Color("#6c6c6c")
	if t == ThemeDark {
		fg, bg, border, muted = lipgloss.Color("#e6e6e6"), lipgloss.Color("#1c1c1c"), lipgloss.Color("#5f5f5f"), lipgloss.Color("#9e9e9e")
	}

	return styles{
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Foreground(fg).
			Background(bg),
		button: lipgloss.NewStyle().
			Padding(0, 2).
			Foreground(fg).
			Border(lipgloss.NormalBorder(), false, true).
			BorderForeground(border),
		buttonRec: lipgloss.NewStyle().
			Padding(0, 2).
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#c62828")),
		status:      lipgloss.NewStyle().Foreground(muted),
		recording:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
		errorText:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5252")),
		placeholder: lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}
