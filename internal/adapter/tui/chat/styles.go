package chat

import "github.com/charmbracelet/lipgloss"

// Adaptive palette; lipgloss drops colour when NO_COLOR is set.
var (
	colorCalm    = lipgloss.AdaptiveColor{Light: "#00796b", Dark: "#4db6ac"}
	colorWarm    = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorBgAlt   = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	colorFgDim   = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	colorOffline = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
)

var (
	userLabel    = lipgloss.NewStyle().Foreground(colorCalm).Bold(true)
	botLabel     = lipgloss.NewStyle().Foreground(colorWarm).Bold(true)
	noteLabel    = lipgloss.NewStyle().Foreground(colorMuted).Bold(true)
	errorLabel   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	offlineBadge = lipgloss.NewStyle().Foreground(colorOffline).Faint(true)
	timestamp    = lipgloss.NewStyle().Foreground(colorFgDim).Faint(true)
	mutedText    = lipgloss.NewStyle().Foreground(colorMuted)

	statusBar = lipgloss.NewStyle().
			Foreground(colorFgDim).
			Background(colorBgAlt).
			Padding(0, 1)
	statusKey = lipgloss.NewStyle().Foreground(colorCalm).Bold(true)

	inputPrompt      = lipgloss.NewStyle().Foreground(colorCalm).Bold(true)
	inputPlaceholder = lipgloss.NewStyle().Foreground(colorFgDim)
	divider          = lipgloss.NewStyle().Foreground(colorBorder)
)

// maxContentWidth keeps long replies readable on wide terminals.
const maxContentWidth = 100
