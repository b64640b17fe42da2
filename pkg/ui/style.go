package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	Panel            lipgloss.Style
	PanelTitle       lipgloss.Style
	Pending          lipgloss.Style
	Input            lipgloss.Style
	Error            lipgloss.Style
	Header           lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1",
		Focused:    "#FFFF99",
	}
	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090",
		Focused:    "#DDDD77",
	}
	unselected := lipgloss.AdaptiveColor{Light: lightModeColors.Unselected, Dark: darkModeColors.Unselected}
	selected := lipgloss.AdaptiveColor{Light: lightModeColors.Selected, Dark: darkModeColors.Selected}
	focused := lipgloss.AdaptiveColor{Light: lightModeColors.Focused, Dark: darkModeColors.Focused}

	return &Style{
		UserMessage:      lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1).BorderForeground(focused),
		AssistantMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1).BorderForeground(unselected),
		Panel:            lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).BorderForeground(selected),
		PanelTitle:       lipgloss.NewStyle().Bold(true),
		Pending:          lipgloss.NewStyle().Italic(true).Faint(true),
		Input:            lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(focused),
		Error:            lipgloss.NewStyle().Border(lipgloss.ThickBorder()).Padding(0, 1).BorderForeground(lipgloss.Color("#FF5555")),
		Header:           lipgloss.NewStyle().Bold(true),
	}
}
