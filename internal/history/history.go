// Package history keeps the bounded, persisted chat transcript.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/normanking/mikochat/internal/store"
	"github.com/rs/zerolog"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label is the name used when replaying the transcript to the model.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// Message is a single chat entry. TS is unix milliseconds.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.TS)
}

// ErrInvalidShape is returned by Decode for stored values that are not a list
// of well-formed messages.
var ErrInvalidShape = errors.New("stored history has invalid shape")

const (
	DefaultKey         = "chat_messages"
	DefaultMaxMessages = 40
)

// Config configures a History.
type Config struct {
	Key         string
	MaxMessages int
	Now         func() time.Time
}

// History is an ordered list of messages, newest last, never longer than
// MaxMessages. It is mirrored to a Store under a single key.
type History struct {
	mu       sync.RWMutex
	messages []Message
	store    store.Store
	cfg      Config
	logger   zerolog.Logger
}

// New creates an empty History backed by s. s may be nil, in which case
// Load and Save are no-ops.
func New(s store.Store, cfg Config, logger zerolog.Logger) *History {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &History{
		store:  s,
		cfg:    cfg,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Decode parses a stored value. Anything other than a JSON array of messages
// with known roles is rejected.
func Decode(data []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, ErrInvalidShape
	}
	out := make([]Message, 0, len(raw))
	for i, r := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(r, &fields); err != nil {
			return nil, fmt.Errorf("%w: entry %d is not an object", ErrInvalidShape, i)
		}
		var m Message
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidShape, i, err)
		}
		if _, ok := fields["content"]; !ok || !m.Role.Valid() {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidShape, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// Load replaces the in-memory history with the stored one. Storage failures
// and malformed values leave an empty history; they are logged, not returned.
func (h *History) Load(ctx context.Context) {
	msgs := h.read(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(msgs) > h.cfg.MaxMessages {
		msgs = msgs[len(msgs)-h.cfg.MaxMessages:]
	}
	h.messages = msgs
}

func (h *History) read(ctx context.Context) []Message {
	if h.store == nil {
		return nil
	}
	data, ok, err := h.store.Get(ctx, h.cfg.Key)
	if err != nil {
		h.logger.Warn().Err(err).Msg("History read failed")
		return nil
	}
	if !ok {
		return nil
	}
	msgs, err := Decode(data)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Discarding stored history")
		return nil
	}
	return msgs
}

// Save persists the current history. The error is logged and returned so
// callers may ignore it.
func (h *History) Save(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	data, err := json.Marshal(h.Messages())
	if err != nil {
		return err
	}
	if err := h.store.Set(ctx, h.cfg.Key, data); err != nil {
		h.logger.Warn().Err(err).Msg("History save failed")
		return err
	}
	return nil
}

// Add appends a message stamped with the current time, evicting the oldest
// entries beyond the bound.
func (h *History) Add(role Role, content string) Message {
	m := Message{Role: role, Content: content, TS: h.cfg.Now().UnixMilli()}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	if len(h.messages) > h.cfg.MaxMessages {
		h.messages = append([]Message(nil), h.messages[len(h.messages)-h.cfg.MaxMessages:]...)
	}
	return m
}

// Clear empties the in-memory history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// Messages returns a copy of every message, oldest first. Never nil.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Recent returns up to n of the newest messages, oldest first.
func (h *History) Recent(n int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return []Message{}
	}
	start := max(len(h.messages)-n, 0)
	out := make([]Message, len(h.messages)-start)
	copy(out, h.messages[start:])
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Transcript renders messages as "User: ..." / "Assistant: ..." lines.
func Transcript(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role.Label(), m.Content)
	}
	return sb.String()
}
