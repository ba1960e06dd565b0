package tts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/normanking/mikochat/internal/sched"
	"github.com/rs/zerolog"
)

// DefaultMouthPulse is how long the mouth stays open after a word boundary.
const DefaultMouthPulse = 150 * time.Millisecond

// Config holds speech settings.
type Config struct {
	Language   string // output language, e.g. ja-JP
	Voice      string // preferred voice ID
	Rate       int
	MouthPulse time.Duration
}

// Controller speaks one utterance at a time and drives a mouth callback from
// word events. It never returns errors; failures degrade to silence.
type Controller struct {
	mu        sync.Mutex
	engine    Engine
	clock     sched.Clock
	cfg       Config
	logger    zerolog.Logger
	available bool
	enabled   bool
	speaking  bool
	voice     string
	gen       uint64
	onMouth   func(bool)
	closeTask *sched.Task
}

// NewController creates an enabled controller. A nil engine yields a
// controller that never speaks.
func NewController(engine Engine, clock sched.Clock, cfg Config, logger zerolog.Logger) *Controller {
	if cfg.MouthPulse <= 0 {
		cfg.MouthPulse = DefaultMouthPulse
	}
	if cfg.Language == "" {
		cfg.Language = "ja-JP"
	}
	if clock == nil {
		clock = sched.Real()
	}
	return &Controller{
		engine:    engine,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With().Str("component", "tts").Logger(),
		available: engine != nil,
		enabled:   engine != nil,
		voice:     cfg.Voice,
	}
}

// Init checks for a voice speaking the output language. Without an engine or
// a matching voice the controller is disabled. A voice listing failure is
// logged and leaves the controller as it is.
func (c *Controller) Init(ctx context.Context) {
	if c.engine == nil {
		c.setAvailable(false)
		c.logger.Debug().Msg("No speech engine, speech disabled")
		return
	}

	voices, err := c.engine.ListVoices(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Voice listing failed")
		return
	}

	v, err := FindVoice(voices, c.cfg.Language, c.cfg.Voice)
	if err != nil {
		c.setAvailable(false)
		c.logger.Info().Str("language", c.cfg.Language).Msg("No matching voice, speech disabled")
		return
	}

	c.mu.Lock()
	c.voice = v.ID
	c.mu.Unlock()
	c.logger.Debug().Str("voice", v.ID).Str("language", v.Language).Msg("Voice selected")
}

func (c *Controller) setAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = ok
	if !ok {
		c.enabled = false
	}
}

// Speak cancels any current utterance and speaks text, calling onMouth(true)
// on each word and onMouth(false) after the pulse or when speech ends.
func (c *Controller) Speak(text string, onMouth func(bool)) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if onMouth == nil {
		onMouth = func(bool) {}
	}

	c.mu.Lock()
	if !c.enabled || !c.available {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Stop()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.speaking = true
	c.onMouth = onMouth
	opts := SpeakOptions{
		Language: c.cfg.Language,
		Voice:    c.voice,
		Rate:     c.cfg.Rate,
		OnEvent:  func(e Event) { c.dispatch(gen, e) },
	}
	c.mu.Unlock()

	if err := c.engine.Speak(text, opts); err != nil {
		c.dispatch(gen, Event{Type: EventError, Err: err})
	}
}

func (c *Controller) dispatch(gen uint64, e Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	onMouth := c.onMouth

	switch {
	case e.Type == EventWord:
		c.closeTask.Cancel()
		var task *sched.Task
		task = sched.After(c.clock, c.cfg.MouthPulse, func() { c.closeMouth(gen, task) })
		c.closeTask = task
		c.mu.Unlock()
		onMouth(true)

	case e.Type.Terminal():
		c.closeTask.Cancel()
		c.closeTask = nil
		c.speaking = false
		c.gen++
		c.mu.Unlock()
		onMouth(false)
		if e.Type == EventError {
			c.logger.Warn().Err(e.Err).Msg("Speech failed")
		}

	default:
		c.mu.Unlock()
	}
}

func (c *Controller) closeMouth(gen uint64, task *sched.Task) {
	c.mu.Lock()
	if gen != c.gen || c.closeTask != task {
		c.mu.Unlock()
		return
	}
	c.closeTask = nil
	onMouth := c.onMouth
	c.mu.Unlock()
	onMouth(false)
}

// Stop cancels the current utterance and the pending close. The mouth of an
// interrupted utterance is closed. Safe to call at any time.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	wasActive := c.speaking || c.closeTask != nil
	c.closeTask.Cancel()
	c.closeTask = nil
	c.speaking = false
	onMouth := c.onMouth
	c.onMouth = nil
	engine := c.engine
	c.mu.Unlock()

	if engine != nil {
		engine.Stop()
	}
	if wasActive && onMouth != nil {
		onMouth(false)
	}
}

// Toggle flips the enabled flag and returns the new value. Disabling stops
// any speech.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	c.enabled = !c.enabled
	enabled := c.enabled
	c.mu.Unlock()

	if !enabled {
		c.Stop()
	}
	c.logger.Debug().Bool("enabled", enabled).Msg("Speech toggled")
	return enabled
}

// SetEnabled sets the enabled flag, stopping speech when disabling.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	if !enabled {
		c.Stop()
	}
}

// IsEnabled reports the enabled flag.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsSpeaking reports whether an utterance is in progress.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Available reports whether an engine and a matching voice were found.
func (c *Controller) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Voice returns the selected voice ID.
func (c *Controller) Voice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}
