// Package ui provides the splash screen shown while the CAN Logger
// application is being provisioned and launched.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Banner colors follow the CAN Logger splash: yellow lettering on a
	// dark red plate.
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC107")).
			Background(lipgloss.Color("#8B0000")).
			Bold(true).
			Padding(1, 4)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d6dae0"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e53935")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#2a3850")).
			Italic(true)
)
