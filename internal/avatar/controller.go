package avatar

import (
	"math/rand"
	"sync"
	"time"

	"github.com/normanking/mikochat/internal/sched"
	"github.com/rs/zerolog"
)

// Config controls the blink cycle. Delays are drawn uniformly from
// [Min, Max) using Rand, which returns values in [0, 1).
type Config struct {
	BlinkMin time.Duration
	BlinkMax time.Duration
	HoldMin  time.Duration
	HoldMax  time.Duration
	Rand     func() float64
}

// DefaultConfig returns the standard blink timing.
func DefaultConfig() Config {
	return Config{
		BlinkMin: 2 * time.Second,
		BlinkMax: 6 * time.Second,
		HoldMin:  100 * time.Millisecond,
		HoldMax:  200 * time.Millisecond,
		Rand:     rand.Float64,
	}
}

// Controller owns the mouth and eye flags and pushes the matching frame to
// its surface on every change.
type Controller struct {
	mu        sync.Mutex
	mouthOpen bool
	blinking  bool
	started   bool
	fallback  bool
	failed    map[Frame]bool
	blinkTask *sched.Task
	gen       uint64

	// renderMu serializes surface calls so the last render reflects the
	// latest flags.
	renderMu sync.Mutex

	surface Surface
	clock   sched.Clock
	cfg     Config
	logger  zerolog.Logger
}

// NewController creates an idle controller. Nothing is shown until Start.
func NewController(surface Surface, clock sched.Clock, cfg Config, logger zerolog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.BlinkMax <= 0 {
		cfg.BlinkMin, cfg.BlinkMax = def.BlinkMin, def.BlinkMax
	}
	if cfg.HoldMax <= 0 {
		cfg.HoldMin, cfg.HoldMax = def.HoldMin, def.HoldMax
	}
	if cfg.Rand == nil {
		cfg.Rand = def.Rand
	}
	if clock == nil {
		clock = sched.Real()
	}
	return &Controller{
		surface: surface,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With().Str("component", "avatar").Logger(),
	}
}

// Start loads the sprites, shows the initial frame and begins blinking.
// Calling Start on a running controller does nothing. Each Start/Destroy
// cycle is a separate lifetime: a fallback installed during one stays until
// Destroy, and the next Start tries the sprites again.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.gen++
	gen := c.gen
	c.failed = make(map[Frame]bool, len(Frames))
	c.mu.Unlock()

	c.surface.Load(Frames, func(f Frame, err error) { c.assetFailed(gen, f, err) })
	c.render()

	c.mu.Lock()
	if c.gen == gen {
		c.scheduleBlinkLocked(gen)
	}
	c.mu.Unlock()

	c.logger.Debug().Msg("Avatar started")
}

// SetMouthOpen updates the mouth flag and re-renders before returning.
func (c *Controller) SetMouthOpen(open bool) {
	c.mu.Lock()
	c.mouthOpen = open
	started := c.started
	c.mu.Unlock()

	if started {
		c.render()
	}
}

// Frame returns the variant for the current flags.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FrameFor(c.mouthOpen, c.blinking)
}

// Redraw re-renders when f is the frame currently shown, e.g. after its
// sprite changed on disk.
func (c *Controller) Redraw(f Frame) {
	c.mu.Lock()
	current := c.started && FrameFor(c.mouthOpen, c.blinking) == f
	c.mu.Unlock()
	if current {
		c.render()
	}
}

// MouthOpen reports the mouth flag.
func (c *Controller) MouthOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mouthOpen
}

// UsingFallback reports whether the synthesized face replaced the sprites.
func (c *Controller) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// Destroy cancels the blink cycle, resets the flags and clears the surface.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.gen++
	c.blinkTask.Cancel()
	c.blinkTask = nil
	c.mouthOpen = false
	c.blinking = false
	c.fallback = false
	c.failed = nil
	c.mu.Unlock()

	c.renderMu.Lock()
	c.surface.Clear()
	c.renderMu.Unlock()

	c.logger.Debug().Msg("Avatar destroyed")
}

func (c *Controller) assetFailed(gen uint64, frame Frame, err error) {
	c.mu.Lock()
	if gen != c.gen || c.fallback {
		c.mu.Unlock()
		return
	}
	c.failed[frame] = true
	install := len(c.failed) >= len(Frames)
	if install {
		c.fallback = true
	}
	c.mu.Unlock()

	c.logger.Debug().Err(err).Str("frame", string(frame)).Msg("Sprite failed to load")
	if !install {
		return
	}

	c.logger.Warn().Msg("No sprites could be loaded, using synthesized face")
	c.renderMu.Lock()
	c.surface.InstallFallback()
	c.renderMu.Unlock()
	c.render()
}

func (c *Controller) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.cfg.Rand()*float64(hi-lo))
}

func (c *Controller) scheduleBlinkLocked(gen uint64) {
	delay := c.between(c.cfg.BlinkMin, c.cfg.BlinkMax)
	c.blinkTask = sched.After(c.clock, delay, func() { c.closeEyes(gen) })
}

func (c *Controller) closeEyes(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.blinking = true
	hold := c.between(c.cfg.HoldMin, c.cfg.HoldMax)
	c.blinkTask = sched.After(c.clock, hold, func() { c.openEyes(gen) })
	c.mu.Unlock()

	c.render()
}

func (c *Controller) openEyes(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.blinking = false
	c.scheduleBlinkLocked(gen)
	c.mu.Unlock()

	c.render()
}

func (c *Controller) render() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	mouth, blink, fallback := c.mouthOpen, c.blinking, c.fallback
	c.mu.Unlock()

	if fallback {
		c.surface.ShowFallback(FaceFor(mouth, blink))
		return
	}
	c.surface.Show(FrameFor(mouth, blink))
}
