package ollama

import (
	"context"
	"sync"

	"github.com/normanking/mikochat/internal/model"
)

// session keeps the priming prompt and the turns exchanged so far; Ollama
// itself is stateless between requests.
type session struct {
	id     string
	client *Client
	system string

	mu        sync.Mutex
	turns     []chatMessage
	destroyed bool
}

func (s *session) ID() string {
	return s.id
}

// Prompt sends text with the full conversation and records the exchange on
// success.
func (s *session) Prompt(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", model.Wrap(model.KindPrompt, "prompt", ErrSessionDestroyed)
	}
	messages := make([]chatMessage, 0, len(s.turns)+2)
	if s.system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s.system})
	}
	messages = append(messages, s.turns...)
	messages = append(messages, chatMessage{Role: "user", Content: text})
	s.mu.Unlock()

	reply, err := s.client.chat(ctx, messages)
	if err != nil {
		return "", model.Wrap(model.KindPrompt, "prompt", err)
	}

	s.mu.Lock()
	s.turns = append(s.turns,
		chatMessage{Role: "user", Content: text},
		chatMessage{Role: "assistant", Content: reply})
	s.mu.Unlock()
	return reply, nil
}

// Destroy drops the conversation. The model stays loaded on the server.
func (s *session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.turns = nil
	s.client.logger.Debug().Str("session", s.id).Msg("Session destroyed")
	return nil
}
