package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorPink     lipgloss.Color = "#f5c2e7"
	colorLavender lipgloss.Color = "#b4befe"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface0 lipgloss.Color = "#313244"
	colorText     lipgloss.Color = "#cdd6f4"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	busyStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	idleStyle    = lipgloss.NewStyle().Foreground(colorOverlay1)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorLavender)
	itemStyle    = lipgloss.NewStyle().Foreground(colorText)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	errStyle     = lipgloss.NewStyle().Foreground(colorRed)
	promptStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorLavender).Padding(0, 1)
	footerStyle  = lipgloss.NewStyle().Foreground(colorText).Background(colorSurface0).Padding(0, 2)
	spinnerStyle = lipgloss.NewStyle().Foreground(colorPink)
)
