package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/status"
)

// View renders the popup.
func (m Model) View() string {
	if !m.ready {
		return m.styles.Muted.Render("Starting mikochat…")
	}

	sections := []string{
		m.viewHeader(),
		m.viewport.View(),
	}
	if m.status.NoticeVisible && m.status.Notice != "" {
		sections = append(sections, m.styles.Notice.Render(m.status.Notice))
	}
	sections = append(sections, m.viewInput(), m.viewFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// viewHeader puts the avatar next to the title and status line.
func (m Model) viewHeader() string {
	avatar := m.styles.Avatar.Render(m.opts.Art())

	var statusLine string
	switch m.status.Level {
	case status.LevelOK:
		statusLine = m.styles.StatusOK.Render("● " + m.status.Text)
	case status.LevelError:
		statusLine = m.styles.StatusError.Render("● " + m.status.Text)
	default:
		statusLine = m.styles.StatusWarn.Render("● " + m.status.Text)
	}
	if m.sending {
		statusLine += " " + m.spinner.View()
	}

	side := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Title.Render("mikochat"),
		"",
		statusLine,
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, avatar, "  ", side)
}

func (m Model) viewInput() string {
	return m.styles.Input.Render(m.input.View())
}

// viewFooter shows the character counter, speech state and key help.
func (m Model) viewFooter() string {
	counter := CounterText(m.CharCount(), m.backend.MaxInputLength())
	if m.OverLimit() {
		counter = m.styles.CounterOver.Render(counter)
	} else {
		counter = m.styles.Counter.Render(counter)
	}

	speech := "speech off"
	switch {
	case !m.backend.SpeechAvailable():
		speech = "speech n/a"
	case m.backend.SpeechEnabled():
		speech = "speech on"
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		counter,
		m.styles.Footer.Render("  │ "+speech+" │ "),
		m.help.View(m.keys),
	)
}

// CounterText renders the input counter, e.g. "12 / 4000".
func CounterText(n, limit int) string {
	return fmt.Sprintf("%d / %d", n, limit)
}

// RoleLabel is the bubble header for a role.
func RoleLabel(r history.Role) string {
	if r == history.RoleUser {
		return "You"
	}
	return "AI"
}

// Clock formats a timestamp as HH:MM in local time.
func Clock(t time.Time) string {
	return t.Local().Format("15:04")
}

func (m *Model) renderMessages() string {
	if len(m.messages) == 0 && m.pending == "" {
		return m.styles.Muted.Render("No messages yet. Say hello!")
	}

	var parts []string
	for _, msg := range m.messages {
		parts = append(parts, m.renderBubble(msg.Role, msg.Content, msg.Time()))
	}
	if m.pending != "" && !m.pendingRecorded() {
		parts = append(parts, m.renderBubble(history.RoleUser, m.pending, m.pendingTime))
	}
	return strings.Join(parts, "\n")
}

// pendingRecorded reports whether history already holds the pending message,
// which happens when the history event arrives before the send result.
func (m *Model) pendingRecorded() bool {
	since := m.pendingTime.UnixMilli()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.TS < since {
			break
		}
		if msg.Role == history.RoleUser && msg.Content == m.pending {
			return true
		}
	}
	return false
}

func (m *Model) renderBubble(role history.Role, content string, at time.Time) string {
	labelStyle, bubble := m.styles.AssistantLabel, m.styles.AssistantBubble
	if role == history.RoleUser {
		labelStyle, bubble = m.styles.UserLabel, m.styles.UserBubble
	}
	header := labelStyle.Render(RoleLabel(role)) + " " + m.styles.Timestamp.Render(Clock(at))

	width := max(m.viewport.Width-4, 20)
	var body string
	if role == history.RoleAssistant && m.opts.Markdown {
		body = m.renderMarkdown(content, width)
	} else {
		body = lipgloss.NewStyle().Width(width).Render(content)
	}
	return bubble.Render(header + "\n" + body)
}

// renderMarkdown renders content with glamour, falling back to plain text.
func (m *Model) renderMarkdown(content string, width int) string {
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return content
		}
		m.renderer, m.rendererWidth = r, width
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(out)
}
