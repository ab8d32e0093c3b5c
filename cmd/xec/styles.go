// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/charmbracelet/lipgloss"

// Color palette and reusable styles for CLI output.
var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorMuted     = lipgloss.Color("#6B7280")
	colorSuccess   = lipgloss.Color("#10B981")
	colorError     = lipgloss.Color("#EF4444")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorHighlight = lipgloss.Color("#3B82F6")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)
	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)
	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)
	cmdStyle = lipgloss.NewStyle().
			Foreground(colorHighlight)
)
