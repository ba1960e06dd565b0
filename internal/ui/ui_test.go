package ui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	sent     []string
	resets   int
	toggles  int
	speech   bool
	messages []history.Message
	status   status.Snapshot
	limit    int
}

func (f *fakeBackend) Init(context.Context) {}

func (f *fakeBackend) Send(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "ok", nil
}

func (f *fakeBackend) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeBackend) ToggleSpeech() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	f.speech = !f.speech
	return f.speech
}

func (f *fakeBackend) Messages() []history.Message { return f.messages }
func (f *fakeBackend) Status() status.Snapshot     { return f.status }
func (f *fakeBackend) SpeechEnabled() bool         { return f.speech }
func (f *fakeBackend) SpeechAvailable() bool       { return true }
func (f *fakeBackend) MaxInputLength() int         { return f.limit }

func newReadyModel(t *testing.T, b *fakeBackend) Model {
	t.Helper()
	m := New(b, Options{Art: func() string { return "(o) (o)" }})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	next, _ = next.Update(initDoneMsg{})
	return next.(Model)
}

func typeText(m Model, s string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(Model)
}

func TestCounterAndLimit(t *testing.T) {
	b := &fakeBackend{limit: 10, status: status.Snapshot{ChatEnabled: true}}
	m := newReadyModel(t, b)

	m = typeText(m, "こんにちは")
	assert.Equal(t, 5, m.CharCount())
	assert.False(t, m.OverLimit())
	assert.Contains(t, m.View(), "5 / 10")

	m = typeText(m, "せかいのみなさん")
	assert.Equal(t, 13, m.CharCount())
	assert.True(t, m.OverLimit())
	assert.Contains(t, m.View(), "13 / 10")
}

func TestEnterSendsAndClearsInput(t *testing.T) {
	b := &fakeBackend{limit: 4000, status: status.Snapshot{ChatEnabled: true}}
	m := newReadyModel(t, b)
	m = typeText(m, "hello")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.True(t, m.sending)
	assert.Empty(t, m.input.Value())
	assert.Equal(t, "hello", m.pending)

	// A second enter while sending is ignored.
	next, cmd2 := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd2)
	m = next.(Model)

	result := cmd()
	require.IsType(t, sendResultMsg{}, result)
	next, _ = m.Update(result)
	m = next.(Model)
	assert.False(t, m.sending)
	assert.Empty(t, m.pending)
	assert.Equal(t, []string{"hello"}, b.sent)
}

func TestEnterIgnoredWhenChatDisabled(t *testing.T) {
	b := &fakeBackend{limit: 4000}
	m := newReadyModel(t, b)
	m.input.SetValue("hello")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, b.sent)
}

func TestOverLimitDraftIsKept(t *testing.T) {
	b := &fakeBackend{limit: 3, status: status.Snapshot{ChatEnabled: true}}
	m := newReadyModel(t, b)
	m = typeText(m, "abcd")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "abcd", m.input.Value())
	assert.Empty(t, m.pending)
}

func TestNewlineKey(t *testing.T) {
	b := &fakeBackend{limit: 4000, status: status.Snapshot{ChatEnabled: true}}
	m := newReadyModel(t, b)
	m = typeText(m, "a")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
	m = typeText(next.(Model), "b")
	assert.Equal(t, "a\nb", m.input.Value())
	assert.Empty(t, b.sent)
}

func TestShortcuts(t *testing.T) {
	b := &fakeBackend{limit: 4000, status: status.Snapshot{ChatEnabled: true}}
	m := newReadyModel(t, b)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Nil(t, cmd)
	assert.Equal(t, 1, b.toggles)
	assert.True(t, b.speech)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	assert.IsType(t, resetResultMsg{}, cmd())
	assert.Equal(t, 1, b.resets)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestBubblesShowLabelsAndTimes(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 5, 0, 0, time.Local)
	b := &fakeBackend{
		limit:  4000,
		status: status.Snapshot{ChatEnabled: true, Level: status.LevelOK, Text: "Ready (on-device)"},
		messages: []history.Message{
			{Role: history.RoleUser, Content: "こんにちは", TS: at.UnixMilli()},
			{Role: history.RoleAssistant, Content: "こんにちは！", TS: at.Add(time.Minute).UnixMilli()},
		},
	}
	m := newReadyModel(t, b)
	view := m.View()

	assert.Contains(t, view, "You 09:05")
	assert.Contains(t, view, "AI 09:06")
	assert.Contains(t, view, "こんにちは！")
	assert.Contains(t, view, "Ready (on-device)")
	assert.Contains(t, view, "(o) (o)")
}

func TestNoticeShownWhileVisible(t *testing.T) {
	b := &fakeBackend{limit: 4000, status: status.Snapshot{Notice: "Reply error: boom", NoticeVisible: true}}
	m := newReadyModel(t, b)
	assert.Contains(t, m.View(), "Reply error: boom")

	b.status.NoticeVisible = false
	next, _ := m.Update(busMsg{event: bus.Event{Type: bus.EventTypeNoticeHidden}})
	assert.NotContains(t, next.(Model).View(), "Reply error: boom")
}

func TestPendingMessageNotDuplicated(t *testing.T) {
	now := time.Now()
	b := &fakeBackend{limit: 4000, status: status.Snapshot{ChatEnabled: true}}
	m := New(b, Options{Now: func() time.Time { return now }})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	next, _ = next.Update(initDoneMsg{})
	m = typeText(next.(Model), "やあ")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	assert.Equal(t, 1, strings.Count(m.renderMessages(), "やあ"))

	b.messages = []history.Message{{Role: history.RoleUser, Content: "やあ", TS: now.UnixMilli()}}
	next, _ = m.Update(busMsg{event: bus.Event{Type: bus.EventTypeHistoryChanged}})
	m = next.(Model)
	assert.Equal(t, 1, strings.Count(m.renderMessages(), "やあ"))
}

func TestBridgeForwardsInOrder(t *testing.T) {
	b := bus.NewEventBus()
	got := make(chan tea.Msg, 8)
	stop := Bridge(b, func(msg tea.Msg) { got <- msg })
	defer stop()

	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "a"}})
	b.Publish(bus.Event{Type: bus.EventTypeNoticeShown})
	b.Publish(bus.Event{Type: bus.EventTypeFrameChanged})

	var types []bus.EventType
	for i := 0; i < 3; i++ {
		select {
		case msg := <-got:
			types = append(types, msg.(busMsg).event.Type)
		case <-time.After(5 * time.Second):
			t.Fatal("event not forwarded")
		}
	}
	assert.Equal(t, []bus.EventType{
		bus.EventTypeStatusChanged,
		bus.EventTypeNoticeShown,
		bus.EventTypeFrameChanged,
	}, types)

	stop()
	stop()
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged})
	select {
	case <-got:
		t.Fatal("forwarded after stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "12 / 4000", CounterText(12, 4000))
	assert.Equal(t, "You", RoleLabel(history.RoleUser))
	assert.Equal(t, "AI", RoleLabel(history.RoleAssistant))
	assert.Equal(t, "23:59", Clock(time.Date(2026, 1, 2, 23, 59, 30, 0, time.Local)))
}
