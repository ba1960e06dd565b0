package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishPreservesOrder(t *testing.T) {
	b := NewEventBus()
	var got []string
	b.Subscribe(EventTypeStatusChanged, func(e Event) {
		got = append(got, e.Data["text"].(string))
	})

	for _, text := range []string{"checking", "downloading", "ready"} {
		b.Publish(Event{Type: EventTypeStatusChanged, Data: map[string]any{"text": text}})
	}

	assert.Equal(t, []string{"checking", "downloading", "ready"}, got)
}

func TestEventBus_OnlyMatchingType(t *testing.T) {
	b := NewEventBus()
	var frames, notices int
	b.Subscribe(EventTypeFrameChanged, func(Event) { frames++ })
	b.Subscribe(EventTypeNoticeShown, func(Event) { notices++ })

	b.Publish(Event{Type: EventTypeFrameChanged})
	b.Publish(Event{Type: EventTypeFrameChanged})

	assert.Equal(t, 2, frames)
	assert.Equal(t, 0, notices)
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()
	var seen []EventType
	b.SubscribeMultiple(AllEventTypes, func(e Event) { seen = append(seen, e.Type) })

	b.Publish(Event{Type: EventTypeSpeechStarted})
	b.Publish(Event{Type: EventTypeHistoryChanged})

	assert.Equal(t, []EventType{EventTypeSpeechStarted, EventTypeHistoryChanged}, seen)
}

func TestEventBus_NilAndClear(t *testing.T) {
	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Type: EventTypeChatEnabled}) })

	b := NewEventBus()
	var calls int
	b.Subscribe(EventTypeChatEnabled, func(Event) { calls++ })
	b.Clear()
	b.Publish(Event{Type: EventTypeChatEnabled})
	assert.Equal(t, 0, calls)
}
