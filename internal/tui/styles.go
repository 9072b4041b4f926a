package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles of the chat view.
type Styles struct {
	Header      lipgloss.Style
	Sidebar     lipgloss.Style
	SidebarItem lipgloss.Style
	Selected    lipgloss.Style
	User        lipgloss.Style
	Bot         lipgloss.Style
	Error       lipgloss.Style
	Muted       lipgloss.Style
	Status      lipgloss.Style
}

func DefaultStyles() Styles {
	primary := lipgloss.Color("39")
	return Styles{
		Header:      lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		Sidebar:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder(), false, true, false, false).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		SidebarItem: lipgloss.NewStyle(),
		Selected:    lipgloss.NewStyle().Bold(true).Foreground(primary),
		User:        lipgloss.NewStyle().Bold(true).Foreground(primary),
		Bot:         lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Error:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Muted:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1),
	}
}
