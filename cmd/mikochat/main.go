// Package main is the entry point for the mikochat CLI.
// mikochat is a terminal chat popup backed by an on-device language model,
// with a blinking avatar that lip-syncs to spoken replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/mikochat/internal/availability"
	"github.com/normanking/mikochat/internal/config"
	"github.com/normanking/mikochat/internal/logging"
	"github.com/normanking/mikochat/internal/model/ollama"
	"github.com/normanking/mikochat/internal/popup"
	"github.com/normanking/mikochat/internal/session"
	"github.com/normanking/mikochat/internal/ui"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	cfg     *config.Config
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mikochat",
		Short: "mikochat - on-device AI chat popup with a talking avatar",
		Long: `mikochat chats with a local language model from a terminal popup.
Replies are read aloud while the avatar moves its mouth.

Start the popup:         mikochat
One-shot question:       mikochat ask "こんにちは"
Check the model:         mikochat check
Configuration:           mikochat config show`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE:              runPopup,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.mikochat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mikochat v%s\n", version)
		},
	})
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and opens the log file. Console logging stays off
// for the popup, which owns the terminal.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		if cfgPath != "" {
			return fmt.Errorf("load config: %w", err)
		}
		warnf("using default configuration: %v", err)
	}
	cfg = loaded

	if termenv.EnvNoColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logCfg := &logging.Config{
		LogDir:  cfg.Log.Dir,
		Level:   level,
		Console: verbose && cmd != cmd.Root(),
	}

	log, err = logging.New(logCfg)
	if err != nil {
		warnf("file logging disabled: %v", err)
		log = logging.NewWriter(io.Discard, logCfg)
	}
	log.Debug("main", "Configuration loaded", map[string]interface{}{
		"config":   configPath(),
		"provider": cfg.Model.Provider,
		"model":    cfg.Model.Name,
	})
	return nil
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	dir, err := config.GetConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ═══════════════════════════════════════════════════════════════════════════════
// POPUP (ROOT)
// ═══════════════════════════════════════════════════════════════════════════════

func runPopup(cmd *cobra.Command, args []string) error {
	defer log.Close()
	logger := log.Zerolog()

	rt := buildRuntime(cfg, logger)
	defer rt.Close()

	popupModel := ui.New(rt.app, ui.Options{
		Art:      rt.sprite.Art,
		Markdown: cfg.UI.Markdown,
	})
	p := tea.NewProgram(popupModel, tea.WithAltScreen())

	stop := ui.Bridge(rt.bus, p.Send)
	defer stop()

	logger.Info().Str("version", version).Msg("Popup started")
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("popup: %w", err)
	}
	logger.Info().Msg("Popup closed")
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND (one-shot prompt)
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the reply",
		Long: `Ask the on-device model a single question. The exchange is added to the
popup's conversation history unless --no-history is given.

Examples:
  mikochat ask "今日の天気について教えて"
  mikochat ask --no-history "Summarize Go channels in one sentence"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer log.Close()
			logger := log.Zerolog()
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return popup.ErrEmptyInput
			}

			ctx, cancel := signalContext()
			defer cancel()

			capability := newCapability(cfg, logger)
			if capability == nil {
				return errors.New(popup.TextUnsupported)
			}

			kv := openStore(cfg, logger)
			defer kv.Close()
			hist := newHistory(cfg, kv, logger)
			if noHistory {
				hist = newHistory(cfg, nil, logger)
			} else {
				hist.Load(ctx)
			}

			mgr := session.NewManager(capability, hist, nil, sessionConfig(cfg), session.Hooks{
				Progress: func(percent int) {
					fmt.Fprintf(os.Stderr, "\r"+popup.TextDownloadPercentFmt, percent)
					if percent == 100 {
						fmt.Fprintln(os.Stderr)
					}
				},
			}, logger)
			defer mgr.Release()

			if err := mgr.CreateSession(ctx, true); err != nil {
				return fmt.Errorf("%s%v", popup.TextCreateFailedPrefix, err)
			}
			reply, err := mgr.Prompt(ctx, text)
			if err != nil {
				return fmt.Errorf("%s%v", popup.TextReplyErrorPrefix, err)
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not read or record conversation history")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHECK COMMAND (model availability)
// ═══════════════════════════════════════════════════════════════════════════════

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the on-device model is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer log.Close()
			logger := log.Zerolog()

			ctx, cancel := signalContext()
			defer cancel()

			capability := newCapability(cfg, logger)
			var report availability.Report
			monitor := availability.NewMonitor(capability, nil, availability.Config{
				Constraints: constraints(cfg),
			}, availability.Hooks{
				Status: func(r availability.Report) { report = r },
			}, zerolog.Nop())

			state := monitor.Check(ctx)
			monitor.Stop()
			if report.State != state {
				report = availability.Report{State: state}
			}

			style := lipgloss.NewStyle().Foreground(lipgloss.Color("#81C784"))
			if state != availability.StateAvailable {
				style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB74D"))
			}
			if state.Terminal() {
				style = lipgloss.NewStyle().Foreground(lipgloss.Color("#E57373"))
			}

			fmt.Println("Model Availability:")
			fmt.Println("───────────────────")
			fmt.Printf("Provider: %s\n", cfg.Model.Provider)
			fmt.Printf("Model:    %s\n", cfg.Model.Name)
			fmt.Printf("State:    %s\n", style.Render(string(state)))
			fmt.Printf("Status:   %s\n", popup.StatusText(report))

			if c, ok := capability.(*ollama.Client); ok && verbose {
				models, err := c.ListModels(ctx)
				if err == nil {
					fmt.Println("Installed models:")
					for _, m := range models {
						fmt.Printf("  %s\n", m.Name)
					}
				}
			}

			if state.Terminal() {
				return fmt.Errorf("model not ready: %s", state)
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the saved conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer log.Close()
			logger := log.Zerolog()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			kv := openStore(cfg, logger)
			defer kv.Close()
			hist := newHistory(cfg, kv, logger)
			hist.Load(ctx)

			msgs := hist.Messages()
			if limit > 0 {
				msgs = hist.Recent(limit)
			}
			if len(msgs) == 0 {
				fmt.Println("No messages.")
				return nil
			}

			label := lipgloss.NewStyle().Bold(true)
			for _, m := range msgs {
				fmt.Printf("%s %s\n%s\n\n", label.Render(ui.RoleLabel(m.Role)), ui.Clock(m.Time()), m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the newest n messages")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the saved conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer log.Close()
			logger := log.Zerolog()

			kv := openStore(cfg, logger)
			defer kv.Close()
			hist := newHistory(cfg, kv, logger)
			hist.Clear()
			if err := hist.Save(context.Background()); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			fmt.Println("History cleared.")
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mikochat Configuration:")
			fmt.Println("───────────────────────")
			fmt.Printf("Model:          %s (%s at %s)\n", cfg.Model.Name, cfg.Model.Provider, cfg.Model.BaseURL)
			fmt.Printf("Poll:           every %s, %d times\n", cfg.Availability.PollInterval, cfg.Availability.MaxPolls)
			fmt.Printf("History:        %d messages, %d replayed\n", cfg.Session.MaxMessages, cfg.Session.ContextRestoreCount)
			fmt.Printf("Input Limit:    %d characters\n", cfg.Session.MaxInputLength)
			fmt.Printf("Speech:         %t (%s, %s)\n", cfg.TTS.Enabled, cfg.TTS.Engine, cfg.TTS.Language)
			fmt.Printf("Avatar Assets:  %s\n", orDefault(cfg.Avatar.AssetDir, "embedded"))
			fmt.Printf("Data Dir:       %s\n", cfg.Storage.DataDir)
			fmt.Printf("Overlay:        %t (port %d)\n", cfg.Overlay.Enabled, cfg.Overlay.Port)
			fmt.Printf("Log Level:      %s\n", cfg.Log.Level)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	})

	return cmd
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
