// Package status holds the user-visible status line, the dismissible notice
// and the chat-input enable flag.
package status

import (
	"sync"
	"time"

	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/sched"
)

// Level classifies the status line.
type Level string

const (
	LevelOK    Level = "ok"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// DefaultNoticeDuration is how long a notice stays visible.
const DefaultNoticeDuration = 8 * time.Second

// Snapshot is a copy of the board's state.
type Snapshot struct {
	Level         Level
	Text          string
	Notice        string
	NoticeVisible bool
	ChatEnabled   bool
}

// Board is the status surface. Every change is published on the bus.
type Board struct {
	mu       sync.Mutex
	state    Snapshot
	bus      *bus.EventBus
	clock    sched.Clock
	duration time.Duration
	hide     *sched.Task
}

// NewBoard creates a board with chat disabled and an empty status.
func NewBoard(eventBus *bus.EventBus, clock sched.Clock, noticeDuration time.Duration) *Board {
	if clock == nil {
		clock = sched.Real()
	}
	if noticeDuration <= 0 {
		noticeDuration = DefaultNoticeDuration
	}
	return &Board{bus: eventBus, clock: clock, duration: noticeDuration}
}

// SetStatus replaces the status line.
func (b *Board) SetStatus(level Level, text string) {
	b.mu.Lock()
	b.state.Level = level
	b.state.Text = text
	b.mu.Unlock()

	b.bus.Publish(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"level": string(level), "text": text},
	})
}

// ShowNotice shows text and schedules it to hide. A newer notice restarts
// the timer.
func (b *Board) ShowNotice(text string) {
	b.mu.Lock()
	b.hide.Cancel()
	b.state.Notice = text
	b.state.NoticeVisible = true
	var task *sched.Task
	task = sched.After(b.clock, b.duration, func() { b.expire(task) })
	b.hide = task
	b.mu.Unlock()

	b.bus.Publish(bus.Event{
		Type: bus.EventTypeNoticeShown,
		Data: map[string]any{"text": text},
	})
}

func (b *Board) expire(task *sched.Task) {
	b.mu.Lock()
	if b.hide != task {
		b.mu.Unlock()
		return
	}
	b.hide = nil
	b.state.NoticeVisible = false
	b.mu.Unlock()

	b.bus.Publish(bus.Event{Type: bus.EventTypeNoticeHidden})
}

// HideNotice hides the notice if one is visible.
func (b *Board) HideNotice() {
	b.mu.Lock()
	b.hide.Cancel()
	b.hide = nil
	wasVisible := b.state.NoticeVisible
	b.state.NoticeVisible = false
	b.mu.Unlock()

	if wasVisible {
		b.bus.Publish(bus.Event{Type: bus.EventTypeNoticeHidden})
	}
}

// EnableChat allows input.
func (b *Board) EnableChat() {
	b.setChat(true)
}

// DisableChat blocks input.
func (b *Board) DisableChat() {
	b.setChat(false)
}

func (b *Board) setChat(enabled bool) {
	b.mu.Lock()
	changed := b.state.ChatEnabled != enabled
	b.state.ChatEnabled = enabled
	b.mu.Unlock()

	if !changed {
		return
	}
	eventType := bus.EventTypeChatDisabled
	if enabled {
		eventType = bus.EventTypeChatEnabled
	}
	b.bus.Publish(bus.Event{Type: eventType})
}

// Snapshot returns the current state.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close cancels the notice timer.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hide.Cancel()
	b.hide = nil
}
