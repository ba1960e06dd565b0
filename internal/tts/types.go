// Package tts speaks replies aloud and turns word-boundary events into mouth
// pulses for the avatar.
package tts

import (
	"context"
	"errors"
	"strings"
)

// Common errors
var (
	ErrEngineUnavailable = errors.New("speech engine unavailable")
	ErrVoiceNotFound     = errors.New("voice not found")
)

// EventType is the kind of progress event an engine reports.
type EventType string

const (
	EventStart       EventType = "start"
	EventWord        EventType = "word"
	EventEnd         EventType = "end"
	EventInterrupted EventType = "interrupted"
	EventCancelled   EventType = "cancelled"
	EventError       EventType = "error"
)

// Terminal reports whether t ends an utterance.
func (t EventType) Terminal() bool {
	switch t {
	case EventEnd, EventInterrupted, EventCancelled, EventError:
		return true
	}
	return false
}

// Event is a progress notification for one utterance.
type Event struct {
	Type      EventType
	CharIndex int   // rune offset of the word, for EventWord
	Err       error // for EventError
}

// SpeakOptions configures one utterance. OnEvent receives events in order
// and may be called from any goroutine.
type SpeakOptions struct {
	Language string
	Voice    string
	Rate     int // words per minute, 0 for the engine default
	OnEvent  func(Event)
}

// Voice describes a system voice.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"` // BCP 47, e.g. ja-JP
	Gender   string `json:"gender,omitempty"`
}

// Engine is the speech capability. Speak replaces any current utterance and
// returns once speech has started; a start failure is returned as an error.
type Engine interface {
	Speak(text string, opts SpeakOptions) error
	Stop()
	ListVoices(ctx context.Context) ([]Voice, error)
}

// PrimaryLanguage returns the primary subtag of a language tag ("ja-JP" -> "ja").
func PrimaryLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// FindVoice picks the preferred voice when it matches language, otherwise the
// first voice whose primary language matches.
func FindVoice(voices []Voice, language, preferred string) (Voice, error) {
	want := PrimaryLanguage(language)
	if preferred != "" {
		for _, v := range voices {
			if v.ID == preferred && PrimaryLanguage(v.Language) == want {
				return v, nil
			}
		}
	}
	for _, v := range voices {
		if PrimaryLanguage(v.Language) == want {
			return v, nil
		}
	}
	return Voice{}, ErrVoiceNotFound
}
