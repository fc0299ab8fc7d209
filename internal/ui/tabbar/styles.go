package tabbar

import "github.com/charmbracelet/lipgloss"

var (
	activeColor    = lipgloss.AdaptiveColor{Light: "#1A5276", Dark: "#3498DB"}
	inactiveColor  = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	dirtyColor     = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}
	badgeColor     = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#94E2D5"}
	runningColor   = lipgloss.AdaptiveColor{Light: "#DF8E1D", Dark: "#F9E2AF"}
	successColor   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	errorColor     = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	separatorColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	tabStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(inactiveColor)

	activeTabStyle = tabStyle.
			Bold(true).
			Foreground(activeColor).
			Underline(true)

	// Preview tabs are italic until pinned.
	temporaryStyle = lipgloss.NewStyle().Italic(true)

	badgeStyle     = lipgloss.NewStyle().Bold(true).Foreground(badgeColor)
	dirtyStyle     = lipgloss.NewStyle().Foreground(dirtyColor)
	separatorStyle = lipgloss.NewStyle().Foreground(separatorColor)

	runningStyle = lipgloss.NewStyle().Foreground(runningColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
)
