package tui

import "github.com/charmbracelet/lipgloss"

// Smart Parent palette
var (
	ColorAccent  = lipgloss.Color("#e91e63")
	ColorSuccess = lipgloss.Color("#30d158")
	ColorWarning = lipgloss.Color("#ffd60a")
	ColorError   = lipgloss.Color("#ff453a")
	ColorMuted   = lipgloss.Color("#808080")
	ColorText    = lipgloss.Color("#d0d0d0")
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	Header    lipgloss.Style
	UserEmail lipgloss.Style
	PersonaOn lipgloss.Style
	Progress  lipgloss.Style

	UserMsg      lipgloss.Style
	AssistantMsg lipgloss.Style
	PromptMsg    lipgloss.Style
	FallbackMsg  lipgloss.Style
	ErrorMsg     lipgloss.Style

	Warning lipgloss.Style
	Footer  lipgloss.Style
}

func NewTheme() *Theme {
	return &Theme{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
		UserEmail: lipgloss.NewStyle().Foreground(ColorMuted),
		PersonaOn: lipgloss.NewStyle().Foreground(ColorSuccess),
		Progress:  lipgloss.NewStyle().Foreground(ColorMuted).Italic(true),

		UserMsg:      lipgloss.NewStyle().Foreground(ColorText).Bold(true),
		AssistantMsg: lipgloss.NewStyle().Foreground(ColorText),
		PromptMsg:    lipgloss.NewStyle().Foreground(ColorAccent),
		FallbackMsg:  lipgloss.NewStyle().Foreground(ColorMuted).Italic(true),
		ErrorMsg:     lipgloss.NewStyle().Foreground(ColorError),

		Warning: lipgloss.NewStyle().Foreground(ColorWarning).Bold(true),
		Footer:  lipgloss.NewStyle().Foreground(ColorMuted),
	}
}
