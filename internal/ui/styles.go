package ui

import "github.com/charmbracelet/lipgloss"

// Styles contains pre-computed lipgloss styles for the popup.
type Styles struct {
	// Avatar frames the character art
	Avatar lipgloss.Style

	// Title is the app name next to the avatar
	Title lipgloss.Style

	// UserBubble and AssistantBubble wrap chat messages
	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style

	// UserLabel and AssistantLabel are the "You" / "AI" headers
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style

	// Timestamp is the HH:MM next to a label
	Timestamp lipgloss.Style

	// Status line variants
	StatusOK    lipgloss.Style
	StatusWarn  lipgloss.Style
	StatusError lipgloss.Style

	// Notice is the dismissible toast
	Notice lipgloss.Style

	// Input frames the textarea
	Input lipgloss.Style

	// Counter is the "n / max" input counter; CounterOver when over the limit
	Counter     lipgloss.Style
	CounterOver lipgloss.Style

	// Footer carries key help and the speech indicator
	Footer lipgloss.Style

	// Muted is for placeholders and the empty-chat hint
	Muted lipgloss.Style
}

// DefaultStyles returns the popup styles.
func DefaultStyles() Styles {
	pink := lipgloss.Color("#F48FB1")
	blue := lipgloss.Color("#90CAF9")
	grey := lipgloss.Color("#9E9E9E")
	red := lipgloss.Color("#E57373")
	amber := lipgloss.Color("#FFB74D")
	green := lipgloss.Color("#81C784")

	return Styles{
		Avatar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(pink),
		UserBubble: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		AssistantBubble: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(blue),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(pink),
		Timestamp:      lipgloss.NewStyle().Foreground(grey),
		StatusOK:       lipgloss.NewStyle().Foreground(green),
		StatusWarn:     lipgloss.NewStyle().Foreground(amber),
		StatusError:    lipgloss.NewStyle().Foreground(red),
		Notice: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(red).
			Padding(0, 1),
		Input: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(grey),
		Counter:     lipgloss.NewStyle().Foreground(grey),
		CounterOver: lipgloss.NewStyle().Bold(true).Foreground(red),
		Footer:      lipgloss.NewStyle().Foreground(grey),
		Muted:       lipgloss.NewStyle().Foreground(grey).Italic(true),
	}
}
