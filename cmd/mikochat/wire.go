package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/mikochat/internal/availability"
	"github.com/normanking/mikochat/internal/avatar"
	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/config"
	"github.com/normanking/mikochat/internal/history"
	"github.com/normanking/mikochat/internal/model"
	"github.com/normanking/mikochat/internal/model/ollama"
	"github.com/normanking/mikochat/internal/overlay"
	"github.com/normanking/mikochat/internal/popup"
	"github.com/normanking/mikochat/internal/session"
	"github.com/normanking/mikochat/internal/status"
	"github.com/normanking/mikochat/internal/store"
	"github.com/normanking/mikochat/internal/tts"
)

// runtime holds every component of a running popup.
type runtime struct {
	bus     *bus.EventBus
	store   store.Store
	history *history.History
	sprite  *avatar.SpriteSurface
	app     *popup.App
	overlay *overlay.Server
	watcher *avatar.SpriteWatcher
	logger  zerolog.Logger
}

// openStore opens the SQLite store, falling back to memory so the popup
// still works (without persistence) when the data directory is unusable.
func openStore(cfg *config.Config, logger zerolog.Logger) store.Store {
	s, err := store.OpenSQLite(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("SQLite store unavailable, history will not persist")
		return store.NewMemory()
	}
	return s
}

func newHistory(cfg *config.Config, s store.Store, logger zerolog.Logger) *history.History {
	return history.New(s, history.Config{
		Key:         cfg.Storage.HistoryKey,
		MaxMessages: cfg.Session.MaxMessages,
	}, logger)
}

// newCapability returns nil when no on-device model is configured, which the
// popup reports as unsupported.
func newCapability(cfg *config.Config, logger zerolog.Logger) model.Capability {
	switch cfg.Model.Provider {
	case "none", "":
		return nil
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:   cfg.Model.BaseURL,
			Model:     cfg.Model.Name,
			Languages: cfg.Model.Languages,
			Timeout:   cfg.Model.Timeout,
		}, logger)
	default:
		logger.Warn().Str("provider", cfg.Model.Provider).Msg("Unknown model provider")
		return nil
	}
}

func newSpeechEngine(cfg *config.Config, logger zerolog.Logger) tts.Engine {
	if !cfg.TTS.Enabled {
		return nil
	}

	var program tts.Program
	switch cfg.TTS.Engine {
	case "none":
		return nil
	case "say":
		program = tts.SayProgram
	case "espeak-ng", "espeak":
		program = tts.EspeakProgram
	default:
		return tts.SystemEngine(logger)
	}

	engine, err := tts.NewCommandEngine(program, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Speech engine unavailable")
		return nil
	}
	return engine
}

func constraints(cfg *config.Config) model.Constraints {
	return model.Constraints{
		InputLanguages:  cfg.Session.InputLanguages,
		OutputLanguages: cfg.Session.OutputLanguages,
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		BaseInstruction:     cfg.Session.BaseInstruction,
		HistoryHeader:       cfg.Session.HistoryHeader,
		ContextRestoreCount: cfg.Session.ContextRestoreCount,
		Constraints:         constraints(cfg),
	}
}

// buildRuntime wires the popup and its optional overlay and sprite watcher.
func buildRuntime(cfg *config.Config, logger zerolog.Logger) *runtime {
	eventBus := bus.NewEventBus()
	kv := openStore(cfg, logger)
	hist := newHistory(cfg, kv, logger)

	sprite := avatar.NewSpriteSurface(cfg.Avatar.AssetDir)
	avatarCtl := avatar.NewController(
		avatar.Surfaces(sprite, avatar.NewBusSurface(eventBus)),
		nil,
		avatar.Config{
			BlinkMin: cfg.Avatar.BlinkMin,
			BlinkMax: cfg.Avatar.BlinkMax,
			HoldMin:  cfg.Avatar.BlinkHoldMin,
			HoldMax:  cfg.Avatar.BlinkHoldMax,
		},
		logger,
	)

	speech := tts.NewController(newSpeechEngine(cfg, logger), nil, tts.Config{
		Language:   cfg.TTS.Language,
		Voice:      cfg.TTS.VoiceID,
		Rate:       cfg.TTS.Rate,
		MouthPulse: cfg.TTS.MouthPulse,
	}, logger)

	rt := &runtime{
		bus:     eventBus,
		store:   kv,
		history: hist,
		sprite:  sprite,
		logger:  logger,
	}

	// The overlay subscribes before the popup starts so it sees the first
	// status and frame events.
	if cfg.Overlay.Enabled {
		rt.overlay = overlay.New(eventBus, overlay.Config{
			Port:        cfg.Overlay.Port,
			ReplayCount: overlay.DefaultConfig().ReplayCount,
		}, logger)
		if err := rt.overlay.Start(); err != nil {
			logger.Warn().Err(err).Msg("Overlay server failed to start")
			rt.overlay = nil
		}
	}

	rt.app = popup.New(popup.Config{
		MaxInputLength: cfg.Session.MaxInputLength,
		Availability: availability.Config{
			PollInterval: cfg.Availability.PollInterval,
			MaxPolls:     cfg.Availability.MaxPolls,
			Constraints:  constraints(cfg),
		},
		Session: sessionConfig(cfg),
	}, popup.Deps{
		Bus:        eventBus,
		Store:      kv,
		History:    hist,
		Board:      status.NewBoard(eventBus, nil, cfg.UI.NoticeDuration),
		Avatar:     avatarCtl,
		Speech:     speech,
		Capability: newCapability(cfg, logger),
	}, logger)

	if cfg.Avatar.WatchAssets && cfg.Avatar.AssetDir != "" {
		w, err := avatar.Watch(sprite, avatarCtl.Redraw, logger)
		if err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Avatar.AssetDir).Msg("Sprite watcher not started")
		} else {
			rt.watcher = w
		}
	}

	return rt
}

// Close tears the runtime down in reverse order of construction.
func (rt *runtime) Close() {
	if rt.watcher != nil {
		rt.watcher.Close()
	}
	rt.app.Close()
	if rt.overlay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.overlay.Stop(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("Overlay shutdown failed")
		}
		cancel()
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("Store close failed")
	}
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
