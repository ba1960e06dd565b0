// Package config provides configuration management for mikochat
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Model        ModelConfig        `mapstructure:"model"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Session      SessionConfig      `mapstructure:"session"`
	TTS          TTSConfig          `mapstructure:"tts"`
	Avatar       AvatarConfig       `mapstructure:"avatar"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Overlay      OverlayConfig      `mapstructure:"overlay"`
	UI           UIConfig           `mapstructure:"ui"`
	Log          LogConfig          `mapstructure:"log"`
}

// ModelConfig configures the on-device model capability (a local Ollama server)
type ModelConfig struct {
	Provider  string        `mapstructure:"provider"` // ollama, none
	BaseURL   string        `mapstructure:"base_url"`
	Name      string        `mapstructure:"name"`
	Languages []string      `mapstructure:"languages"` // languages the model is trusted with
	Timeout   time.Duration `mapstructure:"timeout"`
}

// AvailabilityConfig configures the readiness polling loop
type AvailabilityConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
}

// SessionConfig configures session priming and the history bounds
type SessionConfig struct {
	BaseInstruction     string   `mapstructure:"base_instruction"`
	HistoryHeader       string   `mapstructure:"history_header"`
	ContextRestoreCount int      `mapstructure:"context_restore_count"`
	MaxMessages         int      `mapstructure:"max_messages"`
	MaxInputLength      int      `mapstructure:"max_input_length"`
	InputLanguages      []string `mapstructure:"input_languages"`
	OutputLanguages     []string `mapstructure:"output_languages"`
}

// TTSConfig configures text-to-speech
type TTSConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Engine     string        `mapstructure:"engine"` // auto, say, espeak-ng, none
	Language   string        `mapstructure:"language"`
	VoiceID    string        `mapstructure:"voice_id"`
	Rate       int           `mapstructure:"rate"` // words per minute
	MouthPulse time.Duration `mapstructure:"mouth_pulse"`
}

// AvatarConfig configures the avatar
type AvatarConfig struct {
	AssetDir     string        `mapstructure:"asset_dir"` // empty = embedded sprites
	WatchAssets  bool          `mapstructure:"watch_assets"`
	BlinkMin     time.Duration `mapstructure:"blink_min"`
	BlinkMax     time.Duration `mapstructure:"blink_max"`
	BlinkHoldMin time.Duration `mapstructure:"blink_hold_min"`
	BlinkHoldMax time.Duration `mapstructure:"blink_hold_max"`
}

// StorageConfig configures the key-value store
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	HistoryKey string `mapstructure:"history_key"`
}

// OverlayConfig configures the websocket overlay feed
type OverlayConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// UIConfig configures the terminal popup
type UIConfig struct {
	NoticeDuration time.Duration `mapstructure:"notice_duration"`
	Markdown       bool          `mapstructure:"markdown"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// DefaultBaseInstruction primes every session.
const DefaultBaseInstruction = "あなたは親切で知識豊富なAIアシスタントです。ユーザーの質問に丁寧に日本語で回答してください。"

// DefaultHistoryHeader introduces the replayed conversation.
const DefaultHistoryHeader = "以下はこれまでの会話履歴です。この文脈を踏まえて回答してください:"

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = ".mikochat"
	}

	return &Config{
		Model: ModelConfig{
			Provider:  "ollama",
			BaseURL:   "http://127.0.0.1:11434",
			Name:      "qwen2.5:3b",
			Languages: []string{"ja", "en"},
			Timeout:   2 * time.Minute,
		},
		Availability: AvailabilityConfig{
			PollInterval: 3 * time.Second,
			MaxPolls:     40,
		},
		Session: SessionConfig{
			BaseInstruction:     DefaultBaseInstruction,
			HistoryHeader:       DefaultHistoryHeader,
			ContextRestoreCount: 20,
			MaxMessages:         40,
			MaxInputLength:      4000,
			InputLanguages:      []string{"ja"},
			OutputLanguages:     []string{"ja"},
		},
		TTS: TTSConfig{
			Enabled:    true,
			Engine:     "auto",
			Language:   "ja-JP",
			VoiceID:    "",
			Rate:       175,
			MouthPulse: 150 * time.Millisecond,
		},
		Avatar: AvatarConfig{
			AssetDir:     "",
			WatchAssets:  false,
			BlinkMin:     2 * time.Second,
			BlinkMax:     6 * time.Second,
			BlinkHoldMin: 100 * time.Millisecond,
			BlinkHoldMax: 200 * time.Millisecond,
		},
		Storage: StorageConfig{
			DataDir:    dir,
			HistoryKey: "chat_messages",
		},
		Overlay: OverlayConfig{
			Enabled: false,
			Port:    8766,
		},
		UI: UIConfig{
			NoticeDuration: 8 * time.Second,
			Markdown:       true,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   filepath.Join(dir, "logs"),
		},
	}
}

// Load reads configuration from path (or ~/.mikochat/config.yaml when empty) and
// the MIKOCHAT_* environment. A missing default file is created from defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper(cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return cfg, err
		}
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return cfg, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
		if err := Save(cfg, ""); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML to path, or to the default location.
func Save(cfg *Config, path string) error {
	if path == "" {
		configDir, err := GetConfigDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return err
		}
		path = filepath.Join(configDir, "config.yaml")
	}

	v := viper.New()
	for key, value := range keyValues(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".mikochat"), nil
}

var envReplacer = strings.NewReplacer(".", "_")

// newViper registers every default so that env overrides resolve even for keys
// absent from the file.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MIKOCHAT")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	for key, value := range keyValues(cfg) {
		v.SetDefault(key, value)
	}
	return v
}

// keyValues flattens cfg into viper keys. Durations are written in their
// string form so the YAML file stays human-editable.
func keyValues(cfg *Config) map[string]any {
	return map[string]any{
		"model.provider":                cfg.Model.Provider,
		"model.base_url":                cfg.Model.BaseURL,
		"model.name":                    cfg.Model.Name,
		"model.languages":               cfg.Model.Languages,
		"model.timeout":                 cfg.Model.Timeout.String(),
		"availability.poll_interval":    cfg.Availability.PollInterval.String(),
		"availability.max_polls":        cfg.Availability.MaxPolls,
		"session.base_instruction":      cfg.Session.BaseInstruction,
		"session.history_header":        cfg.Session.HistoryHeader,
		"session.context_restore_count": cfg.Session.ContextRestoreCount,
		"session.max_messages":          cfg.Session.MaxMessages,
		"session.max_input_length":      cfg.Session.MaxInputLength,
		"session.input_languages":       cfg.Session.InputLanguages,
		"session.output_languages":      cfg.Session.OutputLanguages,
		"tts.enabled":                   cfg.TTS.Enabled,
		"tts.engine":                    cfg.TTS.Engine,
		"tts.language":                  cfg.TTS.Language,
		"tts.voice_id":                  cfg.TTS.VoiceID,
		"tts.rate":                      cfg.TTS.Rate,
		"tts.mouth_pulse":               cfg.TTS.MouthPulse.String(),
		"avatar.asset_dir":              cfg.Avatar.AssetDir,
		"avatar.watch_assets":           cfg.Avatar.WatchAssets,
		"avatar.blink_min":              cfg.Avatar.BlinkMin.String(),
		"avatar.blink_max":              cfg.Avatar.BlinkMax.String(),
		"avatar.blink_hold_min":         cfg.Avatar.BlinkHoldMin.String(),
		"avatar.blink_hold_max":         cfg.Avatar.BlinkHoldMax.String(),
		"storage.data_dir":              cfg.Storage.DataDir,
		"storage.history_key":           cfg.Storage.HistoryKey,
		"overlay.enabled":               cfg.Overlay.Enabled,
		"overlay.port":                  cfg.Overlay.Port,
		"ui.notice_duration":            cfg.UI.NoticeDuration.String(),
		"ui.markdown":                   cfg.UI.Markdown,
		"log.level":                     cfg.Log.Level,
		"log.dir":                       cfg.Log.Dir,
	}
}
