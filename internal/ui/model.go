// Package ui provides the Charmbracelet terminal popup for mikochat.
package ui

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/popup"
	"github.com/normanking/mikochat/internal/status"
)

// Backend is the chat application the popup drives. *popup.App implements it.
type Backend interface {
	Init(ctx context.Context)
	Send(ctx context.Context, text string) (string, error)
	Reset(ctx context.Context) error
	ToggleSpeech() bool
	Messages() []history.Message
	Status() status.Snapshot
	SpeechEnabled() bool
	SpeechAvailable() bool
	MaxInputLength() int
}

var _ Backend = (*popup.App)(nil)

// Options configure the popup model.
type Options struct {
	// Art returns the current avatar drawing.
	Art func() string
	// Markdown renders assistant replies with glamour.
	Markdown bool
	// Now stamps pending messages; defaults to time.Now.
	Now func() time.Time
}

type (
	initDoneMsg   struct{}
	sendResultMsg struct {
		reply string
		err   error
	}
	resetResultMsg struct {
		err error
	}
)

// Model is the Bubble Tea model for the chat popup.
type Model struct {
	width  int
	height int
	ready  bool

	backend Backend
	opts    Options
	styles  Styles
	keys    KeyMap

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	// sending is set while a send is outstanding; pending is the text shown
	// as the user's bubble until the reply arrives.
	sending     bool
	pending     string
	pendingTime time.Time

	messages []history.Message
	status   status.Snapshot

	renderer      *glamour.TermRenderer
	rendererWidth int
}

// New creates the popup model.
func New(backend Backend, opts Options) Model {
	if opts.Art == nil {
		opts.Art = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message…"
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		backend:  backend,
		opts:     opts,
		styles:   DefaultStyles(),
		keys:     DefaultKeyMap(),
		viewport: viewport.New(80, 10),
		input:    ta,
		spinner:  sp,
		help:     help.New(),
	}
}

// Init starts the spinner and the backend.
func (m Model) Init() tea.Cmd {
	backend := m.backend
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			backend.Init(context.Background())
			return initDoneMsg{}
		},
	)
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		m.refreshChat()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Send):
			return m.submit()

		case key.Matches(msg, m.keys.Newline):
			m.input.InsertString("\n")
			return m, nil

		case key.Matches(msg, m.keys.Reset):
			backend := m.backend
			return m, func() tea.Msg {
				return resetResultMsg{err: backend.Reset(context.Background())}
			}

		case key.Matches(msg, m.keys.ToggleSpeech):
			m.backend.ToggleSpeech()
			return m, nil

		case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case initDoneMsg, busMsg:
		m.sync()
		return m, nil

	case resetResultMsg:
		m.sync()
		return m, nil

	case sendResultMsg:
		m.sending = false
		m.pending = ""
		m.sync()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// submit starts a send of the current input. An over-long draft stays in the
// input so it can be edited; the backend reports the limit as a notice.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if m.sending || strings.TrimSpace(text) == "" || !m.status.ChatEnabled {
		return m, nil
	}

	m.sending = true
	if utf8.RuneCountInString(strings.TrimSpace(text)) <= m.backend.MaxInputLength() {
		m.pending = strings.TrimSpace(text)
		m.pendingTime = m.opts.Now()
		m.input.Reset()
		m.refreshChat()
	}

	backend := m.backend
	return m, func() tea.Msg {
		reply, err := backend.Send(context.Background(), text)
		return sendResultMsg{reply: reply, err: err}
	}
}

// sync re-reads backend state after an event.
func (m *Model) sync() {
	m.status = m.backend.Status()
	m.messages = m.backend.Messages()
	if m.status.ChatEnabled {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.refreshChat()
}

// avatarHeight is the sprite height plus the border.
const avatarHeight = 7

func (m *Model) layout() {
	inputHeight := m.input.Height() + 2
	chrome := avatarHeight + inputHeight + 3 // status, notice, footer
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 3)
	m.input.SetWidth(max(m.width-2, 10))
}

func (m *Model) refreshChat() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

// CharCount returns the number of characters in the input.
func (m Model) CharCount() int {
	return utf8.RuneCountInString(m.input.Value())
}

// OverLimit reports whether the input exceeds the backend's limit.
func (m Model) OverLimit() bool {
	return m.CharCount() > m.backend.MaxInputLength()
}
