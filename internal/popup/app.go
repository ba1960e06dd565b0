// Package popup wires the chat components together: availability checks drive
// session creation, sends go through the session manager, and replies are
// spoken with the avatar's mouth following the speech.
package popup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/normanking/mikochat/internal/availability"
	"github.com/normanking/mikochat/internal/avatar"
	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/model"
	"github.com/normanking/mikochat/internal/sched"
	"github.com/normanking/mikochat/internal/session"
	"github.com/normanking/mikochat/internal/status"
	"github.com/normanking/mikochat/internal/store"
	"github.com/normanking/mikochat/internal/tts"
	"github.com/rs/zerolog"
)

// Send rejections.
var (
	ErrBusy         = errors.New("a message is already being sent")
	ErrEmptyInput   = errors.New("empty input")
	ErrInputTooLong = errors.New("input too long")
	ErrClosed       = errors.New("popup closed")
)

const (
	// DefaultMaxInputLength is the input limit in characters.
	DefaultMaxInputLength = 4000
	// SpeechEnabledKey is the store key of the persisted speech toggle.
	SpeechEnabledKey = "tts_enabled"
)

// Unloader is implemented by capabilities that can free the model on exit.
type Unloader interface {
	Unload(ctx context.Context) error
}

// Config holds the popup settings.
type Config struct {
	MaxInputLength int
	Availability   availability.Config
	Session        session.Config
}

// Deps are the components the popup drives. Capability may be nil.
type Deps struct {
	Bus        *bus.EventBus
	Store      store.Store
	History    *history.History
	Board      *status.Board
	Avatar     *avatar.Controller
	Speech     *tts.Controller
	Capability model.Capability
	Clock      sched.Clock
}

// App is the chat popup. All methods are safe for concurrent use.
type App struct {
	cfg      Config
	bus      *bus.EventBus
	store    store.Store
	history  *history.History
	board    *status.Board
	avatar   *avatar.Controller
	speech   *tts.Controller
	unloader Unloader
	monitor  *availability.Monitor
	sessions *session.Manager
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	busy      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	mu sync.Mutex
	wg sync.WaitGroup
}

// New builds the popup and its availability monitor and session manager.
func New(cfg Config, deps Deps, logger zerolog.Logger) *App {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		bus:     deps.Bus,
		store:   deps.Store,
		history: deps.History,
		board:   deps.Board,
		avatar:  deps.Avatar,
		speech:  deps.Speech,
		logger:  logger.With().Str("component", "popup").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	if u, ok := deps.Capability.(Unloader); ok {
		a.unloader = u
	}

	a.sessions = session.NewManager(deps.Capability, deps.History, deps.Bus, cfg.Session, session.Hooks{
		Progress:     a.onDownloadProgress,
		CreateFailed: a.onCreateFailed,
		Quiesce:      a.quiesce,
	}, logger)

	a.monitor = availability.NewMonitor(deps.Capability, deps.Clock, cfg.Availability, availability.Hooks{
		Ready:   a.onAvailable,
		Acquire: a.acquire,
		Status:  a.onAvailabilityReport,
	}, logger)

	return a
}

// Init starts the avatar, prepares speech, restores persisted state and runs
// the availability check.
func (a *App) Init(ctx context.Context) {
	a.avatar.Start()
	a.speech.Init(ctx)
	a.restoreSpeechToggle(ctx)

	a.history.Load(ctx)
	a.publishHistory()

	a.board.DisableChat()
	a.board.SetStatus(status.LevelWarn, TextChecking)
	a.monitor.Check(a.ctx)
}

func (a *App) restoreSpeechToggle(ctx context.Context) {
	if !a.speech.Available() || a.store == nil {
		return
	}
	data, ok, err := a.store.Get(ctx, SpeechEnabledKey)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Speech toggle read failed")
		return
	}
	if !ok {
		return
	}
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err != nil {
		a.logger.Warn().Err(err).Msg("Ignoring stored speech toggle")
		return
	}
	a.speech.SetEnabled(enabled)
}

// onAvailable stops polling, enables chat and creates the first session.
func (a *App) onAvailable() {
	if a.closed.Load() {
		return
	}
	a.monitor.MarkAvailable()
	a.board.SetStatus(status.LevelOK, TextReady)
	a.board.EnableChat()
	if !a.sessions.HasSession() {
		_ = a.sessions.CreateSession(a.ctx, false)
	}
}

// acquire starts the download in the background so the poll loop and Init
// are not held up while the model is pulled.
func (a *App) acquire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.tryStartDownload()
	}()
}

// tryStartDownload creates a session with download monitoring; creating the
// session is what pulls the model.
func (a *App) tryStartDownload() {
	if a.closed.Load() || a.sessions.HasSession() || a.sessions.Creating() {
		return
	}
	if err := a.sessions.CreateSession(a.ctx, true); err != nil {
		return
	}
	if a.sessions.HasSession() {
		a.onAvailable()
	}
}

func (a *App) onAvailabilityReport(r availability.Report) {
	a.bus.Publish(bus.Event{
		Type: bus.EventTypeAvailabilityChanged,
		Data: map[string]any{"state": string(r.State), "attempt": r.Attempt},
	})
	if r.State == availability.StateAvailable {
		return
	}
	a.board.SetStatus(levelFor(r.State), StatusText(r))
	a.board.DisableChat()
}

func (a *App) onDownloadProgress(percent int) {
	a.board.SetStatus(status.LevelWarn, fmt.Sprintf(TextDownloadPercentFmt, percent))
}

func (a *App) onCreateFailed(err error) {
	if a.closed.Load() {
		return
	}
	a.board.ShowNotice(TextCreateFailedPrefix + err.Error())
	if a.monitor.State() != availability.StateAvailable {
		a.board.DisableChat()
	}
}

func (a *App) quiesce() {
	a.speech.Stop()
	a.avatar.SetMouthOpen(false)
}

// Send validates text, prompts the session and speaks the reply. A send while
// another is outstanding is rejected, not queued.
func (a *App) Send(ctx context.Context, text string) (string, error) {
	if a.closed.Load() {
		return "", ErrClosed
	}
	if !a.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer a.busy.Store(false)

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if n := utf8.RuneCountInString(text); n > a.cfg.MaxInputLength {
		a.board.ShowNotice(fmt.Sprintf(TextTooLongFmt, a.cfg.MaxInputLength, n))
		return "", ErrInputTooLong
	}

	if err := a.sessions.EnsureSession(ctx); err != nil {
		a.board.ShowNotice(TextNoSession)
		return "", err
	}

	a.quiesce()
	a.board.HideNotice()

	reply, err := a.sessions.Prompt(ctx, text)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Send failed")
		a.board.ShowNotice(TextReplyErrorPrefix + err.Error())
		return "", err
	}

	if a.speech.IsEnabled() {
		a.bus.Publish(bus.Event{Type: bus.EventTypeSpeechStarted})
		a.speech.Speak(reply, a.avatar.SetMouthOpen)
	}
	return reply, nil
}

// Busy reports whether a send is outstanding.
func (a *App) Busy() bool {
	return a.busy.Load()
}

// ToggleSpeech flips speech, persists the choice and returns the new state.
func (a *App) ToggleSpeech() bool {
	enabled := a.speech.Toggle()
	if !enabled {
		a.avatar.SetMouthOpen(false)
		a.bus.Publish(bus.Event{Type: bus.EventTypeSpeechStopped})
	}
	if a.store != nil {
		data, _ := json.Marshal(enabled)
		if err := a.store.Set(a.ctx, SpeechEnabledKey, data); err != nil {
			a.logger.Warn().Err(err).Msg("Speech toggle save failed")
		}
	}
	a.bus.Publish(bus.Event{
		Type: bus.EventTypeSpeechToggled,
		Data: map[string]any{"enabled": enabled},
	})
	return enabled
}

// Reset clears the conversation and starts a fresh session.
func (a *App) Reset(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}
	err := a.sessions.Reset(ctx)
	a.board.HideNotice()
	if err == nil && a.monitor.State() == availability.StateAvailable {
		a.board.EnableChat()
	}
	return err
}

// Close tears everything down: animation, speech, polling, the notice timer
// and the session. It is idempotent.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		a.mu.Unlock()
		a.cancel()
		a.avatar.Destroy()
		a.speech.Stop()
		a.monitor.Stop()
		a.wg.Wait()
		a.board.Close()
		a.sessions.Release()

		if a.unloader != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.unloader.Unload(ctx); err != nil {
				a.logger.Debug().Err(err).Msg("Model unload failed")
			}
		}
		a.logger.Info().Msg("Popup closed")
	})
}

// Messages returns the chat history, oldest first.
func (a *App) Messages() []history.Message {
	return a.history.Messages()
}

// Status returns the status surface state.
func (a *App) Status() status.Snapshot {
	return a.board.Snapshot()
}

// SpeechEnabled reports the speech toggle.
func (a *App) SpeechEnabled() bool {
	return a.speech.IsEnabled()
}

// SpeechAvailable reports whether a speech engine with a usable voice exists.
func (a *App) SpeechAvailable() bool {
	return a.speech.Available()
}

// MaxInputLength returns the input limit in characters.
func (a *App) MaxInputLength() int {
	return a.cfg.MaxInputLength
}

// Availability returns the monitor state.
func (a *App) Availability() availability.State {
	return a.monitor.State()
}

// SystemPrompt returns the priming text the next session would get.
func (a *App) SystemPrompt() string {
	return a.sessions.SystemPrompt()
}

func (a *App) publishHistory() {
	a.bus.Publish(bus.Event{
		Type: bus.EventTypeHistoryChanged,
		Data: map[string]any{"count": a.history.Len()},
	})
}
