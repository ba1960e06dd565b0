// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for mikochat
const (
	// Status surface events
	EventTypeStatusChanged EventType = "status.changed"
	EventTypeNoticeShown   EventType = "status.notice_shown"
	EventTypeNoticeHidden  EventType = "status.notice_hidden"
	EventTypeChatEnabled   EventType = "status.chat_enabled"
	EventTypeChatDisabled  EventType = "status.chat_disabled"

	// Availability events
	EventTypeAvailabilityChanged EventType = "availability.changed"
	EventTypeDownloadProgress    EventType = "availability.download_progress"

	// Session events
	EventTypeSessionCreated   EventType = "session.created"
	EventTypeSessionDiscarded EventType = "session.discarded"
	EventTypeHistoryChanged   EventType = "session.history_changed"

	// Avatar events
	EventTypeFrameChanged      EventType = "avatar.frame_changed"
	EventTypeFallbackInstalled EventType = "avatar.fallback_installed"

	// TTS events
	EventTypeSpeechStarted EventType = "tts.started"
	EventTypeSpeechStopped EventType = "tts.stopped"
	EventTypeSpeechToggled EventType = "tts.toggled"
)

// AllEventTypes lists every event type, for subscribers that forward everything.
var AllEventTypes = []EventType{
	EventTypeStatusChanged,
	EventTypeNoticeShown,
	EventTypeNoticeHidden,
	EventTypeChatEnabled,
	EventTypeChatDisabled,
	EventTypeAvailabilityChanged,
	EventTypeDownloadProgress,
	EventTypeSessionCreated,
	EventTypeSessionDiscarded,
	EventTypeHistoryChanged,
	EventTypeFrameChanged,
	EventTypeFallbackInstalled,
	EventTypeSpeechStarted,
	EventTypeSpeechStopped,
	EventTypeSpeechToggled,
}

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}

// Publish delivers an event to every handler on the caller's goroutine, in
// subscription order. Status text and frame changes rely on this ordering;
// handlers must not block.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
