package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	accentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mutedStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	ghostStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Italic(true)
	hoverStyle    = lipgloss.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("12"))

	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// cell renders s in exactly width terminal cells.
func cell(style lipgloss.Style, s string, width int) string {
	return style.Width(width).MaxWidth(width).Inline(true).Render(s)
}
