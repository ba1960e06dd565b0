// Package availability tracks whether the model capability can serve a session
// and polls it while the model is being prepared.
package availability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/normanking/mikochat/internal/model"
	"github.com/normanking/mikochat/internal/sched"
	"github.com/rs/zerolog"
)

// State is the monitor's view of the capability.
type State string

const (
	StateUnchecked    State = "unchecked"
	StateAvailable    State = "available"
	StateDownloadable State = "downloadable"
	StateDownloading  State = "downloading"
	StateUnavailable  State = "unavailable"
	StateCheckError   State = "check_error"
	StateTimeout      State = "timeout"
	StateUnsupported  State = "unsupported"
)

// Terminal reports whether no further progress is expected without a restart.
func (s State) Terminal() bool {
	switch s {
	case StateUnavailable, StateCheckError, StateTimeout, StateUnsupported:
		return true
	}
	return false
}

// ErrTimeout is reported when polling runs out of attempts.
var ErrTimeout = errors.New("model preparation timed out")

// Report describes a state transition for status display.
type Report struct {
	State    State
	Attempt  int // 0 for the initial check
	MaxPolls int
	Err      error
}

// Hooks connect the monitor to the rest of the application. Any may be nil.
// They are invoked without internal locks held.
type Hooks struct {
	// Ready is called once the capability reports available.
	Ready func()
	// Acquire asks the session lifecycle to start (or keep) preparing the model.
	Acquire func()
	// Status receives every state change and poll attempt.
	Status func(Report)
}

// Config controls the polling loop.
type Config struct {
	PollInterval time.Duration
	MaxPolls     int
	Constraints  model.Constraints
}

// DefaultConfig returns a 3s interval with 40 attempts for Japanese in and out.
func DefaultConfig() Config {
	return Config{
		PollInterval: 3 * time.Second,
		MaxPolls:     40,
		Constraints: model.Constraints{
			InputLanguages:  []string{"ja"},
			OutputLanguages: []string{"ja"},
		},
	}
}

// Monitor checks the capability once and polls it while a download is pending.
// Starting a poll cycle cancels the previous one; ticks from a cancelled cycle
// have no effect.
type Monitor struct {
	capability model.Capability
	clock      sched.Clock
	cfg        Config
	hooks      Hooks
	logger     zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	gen      uint64
	task     *sched.Task
	cancel   context.CancelFunc
}

// NewMonitor creates a monitor. A nil capability makes every check report
// unsupported.
func NewMonitor(capability model.Capability, clock sched.Clock, cfg Config, hooks Hooks, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if clock == nil {
		clock = sched.Real()
	}
	return &Monitor{
		capability: capability,
		clock:      clock,
		cfg:        cfg,
		hooks:      hooks,
		logger:     logger.With().Str("component", "availability").Logger(),
		state:      StateUnchecked,
	}
}

// Query asks the capability once without changing monitor state.
func (m *Monitor) Query(ctx context.Context) (model.Availability, error) {
	if m.capability == nil {
		return "", model.ErrCapabilityUnavailable
	}
	return m.capability.Availability(ctx, m.cfg.Constraints)
}

// Check performs the initial availability query and acts on the result.
func (m *Monitor) Check(ctx context.Context) State {
	if m.capability == nil {
		m.setState(Report{State: StateUnsupported, Err: model.ErrCapabilityUnavailable})
		m.logger.Warn().Msg("No model capability configured")
		return StateUnsupported
	}

	a, err := m.Query(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Availability check failed")
		m.setState(Report{State: StateCheckError, Err: err})
		return StateCheckError
	}

	m.logger.Info().Str("availability", string(a)).Msg("Availability checked")
	switch a {
	case model.Available:
		m.setState(Report{State: StateAvailable})
		m.call(m.hooks.Ready)
		return StateAvailable
	case model.Downloadable, model.Downloading:
		state := State(a)
		m.setState(Report{State: state, MaxPolls: m.cfg.MaxPolls})
		m.StartPolling(ctx)
		m.call(m.hooks.Acquire)
		return state
	default:
		m.setState(Report{State: StateUnavailable})
		return StateUnavailable
	}
}

// StartPolling begins a new poll cycle, replacing any running one. The cycle
// ends when ctx is cancelled; an already cancelled ctx starts nothing.
func (m *Monitor) StartPolling(ctx context.Context) {
	if ctx.Err() != nil {
		m.logger.Debug().Msg("Polling not started, context done")
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.stopLocked()
	m.gen++
	gen := m.gen
	m.attempts = 0
	m.cancel = cancel
	m.scheduleLocked(pollCtx, gen)
	m.mu.Unlock()

	context.AfterFunc(pollCtx, func() { m.stopCycle(gen) })

	m.logger.Debug().Dur("interval", m.cfg.PollInterval).Int("max", m.cfg.MaxPolls).Msg("Polling started")
}

// Stop cancels the running poll cycle. It is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// MarkAvailable stops polling and records that a session became usable through
// some other path, such as a completed download.
func (m *Monitor) MarkAvailable() {
	m.mu.Lock()
	m.stopLocked()
	m.state = StateAvailable
	m.mu.Unlock()
}

// stopCycle cancels the cycle gen if it is still the running one.
func (m *Monitor) stopCycle(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.stopLocked()
	}
}

func (m *Monitor) stopLocked() {
	m.gen++
	m.task.Cancel()
	m.task = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Polling reports whether a poll cycle is active.
func (m *Monitor) Polling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task != nil
}

// Attempts returns the attempts made in the current or last cycle.
func (m *Monitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Monitor) scheduleLocked(ctx context.Context, gen uint64) {
	m.task = sched.After(m.clock, m.cfg.PollInterval, func() {
		m.tick(ctx, gen)
	})
}

// tick runs one poll attempt. The next attempt is scheduled before hooks run
// so a slow Acquire does not stall the cycle.
func (m *Monitor) tick(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	a, err := m.capability.Availability(ctx, m.cfg.Constraints)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if err == nil && a == model.Available {
		m.stopLocked()
		m.state = StateAvailable
		m.mu.Unlock()

		m.logger.Info().Int("attempt", attempt).Msg("Model became available")
		m.report(Report{State: StateAvailable, Attempt: attempt, MaxPolls: m.cfg.MaxPolls})
		m.call(m.hooks.Ready)
		return
	}
	if attempt >= m.cfg.MaxPolls {
		m.stopLocked()
		m.state = StateTimeout
		m.mu.Unlock()

		m.logger.Warn().Int("attempts", attempt).Msg("Model preparation timed out")
		m.report(Report{State: StateTimeout, Attempt: attempt, MaxPolls: m.cfg.MaxPolls, Err: ErrTimeout})
		return
	}
	m.scheduleLocked(ctx, gen)
	if err == nil && (a == model.Downloadable || a == model.Downloading) {
		m.state = State(a)
	}
	state := m.state
	m.mu.Unlock()

	if err != nil {
		m.logger.Debug().Err(err).Int("attempt", attempt).Msg("Poll failed, retrying")
		return
	}
	switch a {
	case model.Downloadable, model.Downloading:
		m.report(Report{State: state, Attempt: attempt, MaxPolls: m.cfg.MaxPolls})
		m.call(m.hooks.Acquire)
	default:
		m.logger.Debug().Str("availability", string(a)).Int("attempt", attempt).Msg("Still not ready")
	}
}

func (m *Monitor) setState(r Report) {
	m.mu.Lock()
	m.state = r.State
	m.mu.Unlock()
	m.report(r)
}

func (m *Monitor) report(r Report) {
	if m.hooks.Status != nil {
		m.hooks.Status(r)
	}
}

func (m *Monitor) call(f func()) {
	if f != nil {
		f()
	}
}
