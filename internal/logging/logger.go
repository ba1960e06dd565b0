// Package logging opens the mikochat log file and keeps a short in-memory
// trail of recent entries. Components log through zerolog sub-loggers taken
// from Component or Zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is a configured minimum level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel maps a config string onto a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	l := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := zerologLevels[l]; ok {
		return l
	}
	return LevelInfo
}

// LogEntry is one line of the in-memory trail.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     LogLevel  `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"`
}

// Config holds logger configuration.
type Config struct {
	LogDir     string   // default ~/.mikochat/logs
	Level      LogLevel // default info
	MaxHistory int      // entries kept in memory, default 500
	Console    bool     // also write to stderr; off while the popup owns the terminal
}

// DefaultConfig returns file-only logging at info level.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".mikochat", "logs"),
		Level:      LevelInfo,
		MaxHistory: 500,
	}
}

// Logger writes JSON lines through zerolog and remembers recent entries.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu    sync.Mutex
	trail []LogEntry
	next  int
	full  bool
}

// New opens (or appends to) today's log file in cfg.LogDir.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(cfg.LogDir, "mikochat_"+time.Now().Format("2006-01-02")+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = file
	if cfg.Console {
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	l := newLogger(out, cfg)
	l.file = file
	l.logPath = path
	l.Info("logging", "Log file opened", map[string]interface{}{"path": path, "level": string(cfg.Level)})
	return l, nil
}

// NewWriter creates a Logger on w with no backing file. A nil cfg logs
// everything.
func NewWriter(w io.Writer, cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{Level: LevelDebug, MaxHistory: 100}
	}
	return newLogger(w, cfg)
}

func newLogger(w io.Writer, cfg *Config) *Logger {
	size := cfg.MaxHistory
	if size <= 0 {
		size = 500
	}
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	return &Logger{
		zlog:  zerolog.New(w).Level(level).With().Timestamp().Str("app", "mikochat").Logger(),
		trail: make([]LogEntry, size),
	}
}

func (l *Logger) remember(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trail[l.next] = e
	l.next = (l.next + 1) % len(l.trail)
	if l.next == 0 {
		l.full = true
	}
}

// GetHistory returns up to limit of the newest entries, oldest first. A
// limit of zero or less returns everything kept.
func (l *Logger) GetHistory(limit int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []LogEntry
	if l.full {
		ordered = append(ordered, l.trail[l.next:]...)
	}
	ordered = append(ordered, l.trail[:l.next]...)

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// GetLogPath returns the log file path, empty for writer-backed loggers.
func (l *Logger) GetLogPath() string {
	return l.logPath
}

// Close flushes a final entry and closes the log file.
func (l *Logger) Close() error {
	l.Info("logging", "Log file closed", nil)
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// formatData renders data as sorted key=value pairs.
func formatData(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return strings.Join(pairs, ", ")
}

func (l *Logger) emit(level LogLevel, component, msg string, err error, data map[string]interface{}) {
	if zerologLevels[level] < l.zlog.GetLevel() {
		return
	}
	event := l.zlog.WithLevel(zerologLevels[level]).Str("component", component).Fields(data)
	summary := formatData(data)
	if err != nil {
		event = event.Err(err)
		if summary != "" {
			summary += ", "
		}
		summary += "error=" + err.Error()
	}
	event.Msg(msg)

	l.remember(LogEntry{
		Time:      time.Now(),
		Level:     level,
		Component: component,
		Message:   msg,
		Data:      summary,
	})
}

func (l *Logger) Debug(component, msg string, data map[string]interface{}) {
	l.emit(LevelDebug, component, msg, nil, data)
}

func (l *Logger) Info(component, msg string, data map[string]interface{}) {
	l.emit(LevelInfo, component, msg, nil, data)
}

func (l *Logger) Warn(component, msg string, data map[string]interface{}) {
	l.emit(LevelWarn, component, msg, nil, data)
}

// Error logs msg with err attached as the "error" field.
func (l *Logger) Error(component, msg string, err error, data map[string]interface{}) {
	l.emit(LevelError, component, msg, err, data)
}

// Component returns a zerolog.Logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}
