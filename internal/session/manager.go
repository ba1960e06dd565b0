// Package session owns the live model session: creating it primed with recent
// history, prompting it, and discarding it after failures or a reset.
package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/model"
	"github.com/rs/zerolog"
)

// ErrNoSession is returned when no session exists and one could not be created.
var ErrNoSession = errors.New("no session")

const (
	// DefaultBaseInstruction primes every session.
	DefaultBaseInstruction = "あなたは親切で知識豊富なAIアシスタントです。ユーザーの質問に丁寧に日本語で回答してください。"
	// DefaultHistoryHeader introduces the replayed conversation.
	DefaultHistoryHeader = "以下はこれまでの会話履歴です。この文脈を踏まえて回答してください:"
	// DefaultContextRestoreCount is how many messages are replayed on creation.
	DefaultContextRestoreCount = 20
)

// Config controls session priming.
type Config struct {
	BaseInstruction     string
	HistoryHeader       string
	ContextRestoreCount int
	Constraints         model.Constraints
}

// DefaultConfig returns the Japanese priming with the last 20 messages.
func DefaultConfig() Config {
	return Config{
		BaseInstruction:     DefaultBaseInstruction,
		HistoryHeader:       DefaultHistoryHeader,
		ContextRestoreCount: DefaultContextRestoreCount,
		Constraints: model.Constraints{
			InputLanguages:  []string{"ja"},
			OutputLanguages: []string{"ja"},
		},
	}
}

// Hooks let the application react to lifecycle events. Any may be nil.
type Hooks struct {
	// Progress receives the download percentage while a monitored creation
	// pulls the model.
	Progress func(percent int)
	// CreateFailed is called when creating a session fails.
	CreateFailed func(err error)
	// Quiesce stops speech and closes the avatar mouth before a reset.
	Quiesce func()
}

// handle wraps a model session so that it is released at most once.
type handle struct {
	session model.Session
	once    sync.Once
}

func (h *handle) release(logger zerolog.Logger) {
	h.once.Do(func() {
		if err := h.session.Destroy(); err != nil {
			logger.Warn().Err(err).Str("session", h.session.ID()).Msg("Session release failed")
		}
	})
}

// Manager holds at most one live session.
type Manager struct {
	capability model.Capability
	history    *history.History
	bus        *bus.EventBus
	cfg        Config
	hooks      Hooks
	logger     zerolog.Logger

	mu       sync.Mutex
	current  *handle
	creating bool
}

// NewManager creates a manager. capability may be nil, in which case every
// creation fails with model.ErrCapabilityUnavailable.
func NewManager(capability model.Capability, hist *history.History, eventBus *bus.EventBus, cfg Config, hooks Hooks, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.BaseInstruction == "" {
		cfg.BaseInstruction = def.BaseInstruction
	}
	if cfg.HistoryHeader == "" {
		cfg.HistoryHeader = def.HistoryHeader
	}
	if cfg.ContextRestoreCount <= 0 {
		cfg.ContextRestoreCount = def.ContextRestoreCount
	}
	if len(cfg.Constraints.InputLanguages) == 0 && len(cfg.Constraints.OutputLanguages) == 0 {
		cfg.Constraints = def.Constraints
	}
	return &Manager{
		capability: capability,
		history:    hist,
		bus:        eventBus,
		cfg:        cfg,
		hooks:      hooks,
		logger:     logger.With().Str("component", "session").Logger(),
	}
}

// SystemPrompt returns the priming text the next creation would use.
func (m *Manager) SystemPrompt() string {
	recent := m.history.Recent(m.cfg.ContextRestoreCount)
	if len(recent) == 0 {
		return m.cfg.BaseInstruction
	}
	var sb strings.Builder
	sb.WriteString(m.cfg.BaseInstruction)
	sb.WriteString("\n\n")
	sb.WriteString(m.cfg.HistoryHeader)
	sb.WriteString("\n")
	sb.WriteString(history.Transcript(recent))
	return sb.String()
}

// HasSession reports whether a live session exists.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Creating reports whether a creation is in flight.
func (m *Manager) Creating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creating
}

// SessionID returns the live session's ID, or "" when there is none.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.session.ID()
}

// CreateSession creates a new session primed with recent history. A call made
// while another creation is in flight returns nil without doing anything.
// With monitorDownload, model download progress is reported through
// Hooks.Progress. On success any previous session is released.
func (m *Manager) CreateSession(ctx context.Context, monitorDownload bool) error {
	m.mu.Lock()
	if m.creating {
		m.mu.Unlock()
		m.logger.Debug().Msg("Creation already in flight")
		return nil
	}
	m.creating = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.creating = false
		m.mu.Unlock()
	}()

	opts := model.CreateOptions{
		Constraints:  m.cfg.Constraints,
		SystemPrompt: m.SystemPrompt(),
	}
	if monitorDownload {
		opts.Monitor = m.reportProgress
	}

	s, err := m.create(ctx, opts)
	if err != nil {
		m.logger.Error().Err(err).Msg("Session creation failed")
		if m.hooks.CreateFailed != nil {
			m.hooks.CreateFailed(err)
		}
		return err
	}

	m.mu.Lock()
	prev := m.current
	m.current = &handle{session: s}
	m.mu.Unlock()

	if prev != nil {
		prev.release(m.logger)
	}
	m.logger.Info().Str("session", s.ID()).Bool("monitored", monitorDownload).Msg("Session ready")
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeSessionCreated,
		Data: map[string]any{"id": s.ID()},
	})
	return nil
}

func (m *Manager) create(ctx context.Context, opts model.CreateOptions) (model.Session, error) {
	if m.capability == nil {
		return nil, model.Wrap(model.KindCreate, "create", model.ErrCapabilityUnavailable)
	}
	s, err := m.capability.Create(ctx, opts)
	if err != nil {
		return nil, model.Wrap(model.KindCreate, "create", err)
	}
	return s, nil
}

func (m *Manager) reportProgress(loaded float64) {
	percent := int(math.Round(math.Max(0, math.Min(1, loaded)) * 100))
	if m.hooks.Progress != nil {
		m.hooks.Progress(percent)
	}
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeDownloadProgress,
		Data: map[string]any{"percent": percent},
	})
}

// EnsureSession creates a session if none exists, returning ErrNoSession when
// that fails.
func (m *Manager) EnsureSession(ctx context.Context) error {
	if m.HasSession() {
		return nil
	}
	if err := m.CreateSession(ctx, false); err != nil {
		return errors.Join(ErrNoSession, err)
	}
	if !m.HasSession() {
		return ErrNoSession
	}
	return nil
}

// Prompt sends text to the session, creating one first if needed. On success
// the exchange is appended to history and persisted. On failure the session is
// discarded so the next prompt creates a fresh one.
func (m *Manager) Prompt(ctx context.Context, text string) (string, error) {
	if err := m.EnsureSession(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	h := m.current
	m.mu.Unlock()
	if h == nil {
		return "", ErrNoSession
	}

	reply, err := h.session.Prompt(ctx, text)
	if err != nil {
		m.logger.Warn().Err(err).Str("session", h.session.ID()).Msg("Prompt failed, discarding session")
		m.discard(h)
		return "", model.Wrap(model.KindPrompt, "prompt", err)
	}

	m.history.Add(history.RoleUser, text)
	m.history.Add(history.RoleAssistant, reply)
	_ = m.history.Save(ctx)
	m.publishHistory()
	return reply, nil
}

// discard drops h if it is still current and releases it either way.
func (m *Manager) discard(h *handle) {
	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()

	h.release(m.logger)
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeSessionDiscarded,
		Data: map[string]any{"id": h.session.ID()},
	})
}

// Release discards the live session, if any.
func (m *Manager) Release() {
	m.mu.Lock()
	h := m.current
	m.mu.Unlock()
	if h != nil {
		m.discard(h)
	}
}

// Reset stops speech, drops the session, clears and persists the history and
// creates a fresh session. The returned error is from the new creation.
func (m *Manager) Reset(ctx context.Context) error {
	if m.hooks.Quiesce != nil {
		m.hooks.Quiesce()
	}
	m.Release()

	m.history.Clear()
	_ = m.history.Save(ctx)
	m.publishHistory()
	m.logger.Info().Msg("Conversation reset")

	return m.CreateSession(ctx, false)
}

func (m *Manager) publishHistory() {
	m.bus.Publish(bus.Event{
		Type: bus.EventTypeHistoryChanged,
		Data: map[string]any{"count": m.history.Len()},
	})
}
