package inspect

import "github.com/charmbracelet/lipgloss"

// Node colors.
var (
	ColorTag      = lipgloss.Color("#3b82f6")
	ColorID       = lipgloss.Color("#6b7280")
	ColorText     = lipgloss.Color("#e5e7eb")
	ColorListener = lipgloss.Color("#d97706")
	ColorValue    = lipgloss.Color("#22c55e")
	ColorCanvas   = lipgloss.Color("#a855f7")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorDanger  = lipgloss.Color("#dc2626")
)

var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleNotice = lipgloss.NewStyle().
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(ColorDanger).
		Foreground(ColorBright).
		Padding(1, 2)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Reverse(true)

	styleTag      = lipgloss.NewStyle().Foreground(ColorTag)
	styleID       = lipgloss.NewStyle().Foreground(ColorID)
	styleText     = lipgloss.NewStyle().Foreground(ColorText)
	styleListener = lipgloss.NewStyle().Foreground(ColorListener)
	styleValue    = lipgloss.NewStyle().Foreground(ColorValue)
	styleCanvas   = lipgloss.NewStyle().Foreground(ColorCanvas)
)
