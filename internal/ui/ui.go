// Package ui centralizes terminal styling for the CLI. Styling is
// disabled automatically when the environment opts out of color or
// when output is not a terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var colorEnabled = detectColor()

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

func detectColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// Disable turns off all styling, e.g. for a --no-color flag.
func Disable() {
	colorEnabled = false
}

// RenderPass styles s as a success marker.
func RenderPass(s string) string {
	if !colorEnabled {
		return s
	}
	return passStyle.Render(s)
}

// RenderWarn styles s as a warning marker.
func RenderWarn(s string) string {
	if !colorEnabled {
		return s
	}
	return warnStyle.Render(s)
}

// RenderFail styles s as a failure marker.
func RenderFail(s string) string {
	if !colorEnabled {
		return s
	}
	return failStyle.Render(s)
}

// RenderAccent styles s as an informational highlight.
func RenderAccent(s string) string {
	if !colorEnabled {
		return s
	}
	return accentStyle.Render(s)
}

// RenderMuted styles s as secondary detail.
func RenderMuted(s string) string {
	if !colorEnabled {
		return s
	}
	return mutedStyle.Render(s)
}

// RenderHeader styles s as a section header.
func RenderHeader(s string) string {
	if !colorEnabled {
		return s
	}
	return headerStyle.Render(s)
}

// IsInteractive reports whether stdin and stdout are attached to a
// terminal. Interactive prompts refuse to run when this is false.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
