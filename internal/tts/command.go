package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Program describes how to drive a command-line synthesizer.
type Program struct {
	Name        string
	Args        func(text string, opts SpeakOptions) []string
	VoiceArgs   []string
	ParseVoices func(output string) []Voice
}

// SayProgram drives the macOS `say` command.
var SayProgram = Program{
	Name: "say",
	Args: func(text string, opts SpeakOptions) []string {
		var args []string
		if opts.Voice != "" {
			args = append(args, "-v", opts.Voice)
		}
		if opts.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(opts.Rate))
		}
		return append(args, "--", text)
	},
	VoiceArgs:   []string{"-v", "?"},
	ParseVoices: ParseSayVoices,
}

// EspeakProgram drives espeak-ng.
var EspeakProgram = Program{
	Name: "espeak-ng",
	Args: func(text string, opts SpeakOptions) []string {
		voice := opts.Voice
		if voice == "" {
			voice = PrimaryLanguage(opts.Language)
		}
		args := []string{"-v", voice}
		if opts.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(opts.Rate))
		}
		return append(args, "--", text)
	},
	VoiceArgs:   []string{"--voices"},
	ParseVoices: ParseEspeakVoices,
}

// "Kyoko               ja_JP    # こんにちは、私の名前はKyokoです。"
var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([A-Za-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// ParseSayVoices parses the output of `say -v ?`.
func ParseSayVoices(output string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(output, "\n") {
		m := sayVoiceLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		voices = append(voices, Voice{
			ID:       name,
			Name:     name,
			Language: strings.ReplaceAll(m[2], "_", "-"),
		})
	}
	return voices
}

// ParseEspeakVoices parses the table printed by `espeak-ng --voices`.
func ParseEspeakVoices(output string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		gender := ""
		if parts := strings.Split(fields[2], "/"); len(parts) == 2 {
			switch parts[1] {
			case "M":
				gender = "male"
			case "F":
				gender = "female"
			}
		}
		voices = append(voices, Voice{
			ID:       fields[1],
			Name:     fields[3],
			Language: fields[1],
			Gender:   gender,
		})
	}
	return voices
}

// DefaultRate is the pacing rate when none is configured, in words per minute.
const DefaultRate = 175

// CommandEngine speaks by running a synthesizer process. The process reports
// no word boundaries, so word events are paced from the text at the
// configured rate while the process runs.
type CommandEngine struct {
	program Program
	path    string
	logger  zerolog.Logger

	mu      sync.Mutex
	current *utterance
}

// NewCommandEngine resolves program on PATH.
func NewCommandEngine(program Program, logger zerolog.Logger) (*CommandEngine, error) {
	path, err := exec.LookPath(program.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineUnavailable, program.Name, err)
	}
	return &CommandEngine{
		program: program,
		path:    path,
		logger:  logger.With().Str("engine", program.Name).Logger(),
	}, nil
}

// SystemEngine returns the first synthesizer found on this machine, or nil.
func SystemEngine(logger zerolog.Logger) Engine {
	programs := []Program{EspeakProgram, SayProgram}
	if runtime.GOOS == "darwin" {
		programs = []Program{SayProgram, EspeakProgram}
	}
	for _, p := range programs {
		if e, err := NewCommandEngine(p, logger); err == nil {
			return e
		}
	}
	return nil
}

// Name returns the program name.
func (e *CommandEngine) Name() string {
	return e.program.Name
}

type utterance struct {
	mu       sync.Mutex
	finished bool
	onEvent  func(Event)
	cancel   context.CancelFunc
	done     chan struct{}
}

// emit delivers e unless the utterance already ended.
func (u *utterance) emit(e Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return
	}
	if e.Type.Terminal() {
		u.finished = true
	}
	if u.onEvent != nil {
		u.onEvent(e)
	}
}

// Speak implements Engine.
func (e *CommandEngine) Speak(text string, opts SpeakOptions) error {
	e.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.path, e.program.Args(text, opts)...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", e.program.Name, err)
	}

	u := &utterance{onEvent: opts.OnEvent, cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.current = u
	e.mu.Unlock()

	e.logger.Debug().Int("runes", len([]rune(text))).Msg("Speaking")
	u.emit(Event{Type: EventStart})

	rate := opts.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	go u.pace(SplitWords(text), time.Minute/time.Duration(rate))
	go func() {
		err := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			u.emit(Event{Type: EventInterrupted})
		case err != nil:
			u.emit(Event{Type: EventError, Err: fmt.Errorf("%s: %w", e.program.Name, err)})
		default:
			u.emit(Event{Type: EventEnd})
		}
		close(u.done)
		cancel()
	}()
	return nil
}

func (u *utterance) pace(words []Word, interval time.Duration) {
	if len(words) == 0 {
		return
	}
	u.emit(Event{Type: EventWord, CharIndex: words[0].Index})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, w := range words[1:] {
		select {
		case <-u.done:
			return
		case <-ticker.C:
			u.emit(Event{Type: EventWord, CharIndex: w.Index})
		}
	}
}

// Stop kills the running synthesizer, if any, and waits for it to exit.
func (e *CommandEngine) Stop() {
	e.mu.Lock()
	u := e.current
	e.current = nil
	e.mu.Unlock()

	if u == nil {
		return
	}
	u.cancel()
	<-u.done
}

// ListVoices implements Engine.
func (e *CommandEngine) ListVoices(ctx context.Context) ([]Voice, error) {
	if len(e.program.VoiceArgs) == 0 || e.program.ParseVoices == nil {
		return nil, errors.New("voice listing not supported")
	}
	out, err := exec.CommandContext(ctx, e.path, e.program.VoiceArgs...).Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return e.program.ParseVoices(string(out)), nil
}
