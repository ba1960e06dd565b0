package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/normanking/mikochat/internal/sched"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine records calls and lets the test push events for the latest
// utterance.
type fakeEngine struct {
	mu        sync.Mutex
	voices    []Voice
	voicesErr error
	speakErr  error
	spoken    []string
	opts      []SpeakOptions
	stops     int
}

func (f *fakeEngine) Speak(text string, opts SpeakOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speakErr != nil {
		return f.speakErr
	}
	f.spoken = append(f.spoken, text)
	f.opts = append(f.opts, opts)
	return nil
}

func (f *fakeEngine) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeEngine) ListVoices(context.Context) ([]Voice, error) {
	return f.voices, f.voicesErr
}

func (f *fakeEngine) emit(i int, e Event) {
	f.mu.Lock()
	onEvent := f.opts[i].OnEvent
	f.mu.Unlock()
	onEvent(e)
}

func (f *fakeEngine) last(e Event) {
	f.mu.Lock()
	i := len(f.opts) - 1
	f.mu.Unlock()
	f.emit(i, e)
}

type mouthRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (m *mouthRecorder) set(open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, open)
}

func (m *mouthRecorder) get() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.states...)
}

func (m *mouthRecorder) open() bool {
	s := m.get()
	return len(s) > 0 && s[len(s)-1]
}

func newTestController(engine Engine) (*Controller, *sched.FakeClock) {
	clock := sched.NewFakeClock(time.Unix(0, 0))
	return NewController(engine, clock, Config{Language: "ja-JP"}, zerolog.Nop()), clock
}

var jaVoices = []Voice{
	{ID: "Alex", Language: "en-US"},
	{ID: "Kyoko", Language: "ja-JP"},
}

func TestInit_SelectsMatchingVoice(t *testing.T) {
	engine := &fakeEngine{voices: jaVoices}
	c, _ := newTestController(engine)

	c.Init(context.Background())

	assert.True(t, c.Available())
	assert.True(t, c.IsEnabled())
	assert.Equal(t, "Kyoko", c.Voice())

	c.Speak("こんにちは", nil)
	require.Len(t, engine.opts, 1)
	assert.Equal(t, "Kyoko", engine.opts[0].Voice)
	assert.Equal(t, "ja-JP", engine.opts[0].Language)
}

func TestInit_NoMatchingVoiceDisablesSilently(t *testing.T) {
	engine := &fakeEngine{voices: []Voice{{ID: "Alex", Language: "en-US"}}}
	c, _ := newTestController(engine)

	c.Init(context.Background())
	assert.False(t, c.Available())
	assert.False(t, c.IsEnabled())

	assert.NotPanics(t, func() { c.Speak("こんにちは", nil) })
	assert.Empty(t, engine.spoken)
}

func TestInit_NoEngine(t *testing.T) {
	c, _ := newTestController(nil)
	c.Init(context.Background())

	assert.False(t, c.IsEnabled())
	assert.NotPanics(t, func() {
		c.Speak("x", nil)
		c.Stop()
	})
}

func TestInit_ListErrorKeepsEnabled(t *testing.T) {
	engine := &fakeEngine{voicesErr: errors.New("boom")}
	c, _ := newTestController(engine)
	c.Init(context.Background())

	assert.True(t, c.IsEnabled())
	c.Speak("hi", nil)
	assert.Len(t, engine.spoken, 1)
}

func TestSpeak_WordPulsesMouth(t *testing.T) {
	engine := &fakeEngine{}
	c, clock := newTestController(engine)
	mouth := &mouthRecorder{}

	c.Speak("こんにちは", mouth.set)
	assert.True(t, c.IsSpeaking())

	engine.last(Event{Type: EventStart})
	engine.last(Event{Type: EventWord})
	assert.True(t, mouth.open())

	clock.Advance(149 * time.Millisecond)
	assert.True(t, mouth.open())
	clock.Advance(time.Millisecond)
	assert.False(t, mouth.open())
	assert.Equal(t, []bool{true, false}, mouth.get())
}

func TestSpeak_NextWordReschedulesClose(t *testing.T) {
	engine := &fakeEngine{}
	c, clock := newTestController(engine)
	mouth := &mouthRecorder{}
	c.Speak("こんにちは", mouth.set)

	engine.last(Event{Type: EventWord})
	clock.Advance(100 * time.Millisecond)
	engine.last(Event{Type: EventWord})
	clock.Advance(100 * time.Millisecond)

	assert.True(t, mouth.open(), "first close was cancelled")
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(50 * time.Millisecond)
	assert.False(t, mouth.open())
}

func TestSpeak_TerminalEventsCloseImmediately(t *testing.T) {
	for _, typ := range []EventType{EventEnd, EventInterrupted, EventCancelled, EventError} {
		t.Run(string(typ), func(t *testing.T) {
			engine := &fakeEngine{}
			c, clock := newTestController(engine)
			mouth := &mouthRecorder{}
			c.Speak("こんにちは", mouth.set)

			engine.last(Event{Type: EventWord})
			engine.last(Event{Type: typ, Err: errors.New("x")})

			assert.False(t, mouth.open())
			assert.False(t, c.IsSpeaking())
			assert.Equal(t, 0, clock.Pending(), "close timer cancelled")

			// events after the terminal one are ignored
			engine.last(Event{Type: EventWord})
			assert.False(t, mouth.open())
		})
	}
}

func TestSpeak_StartFailureIsTreatedAsError(t *testing.T) {
	engine := &fakeEngine{speakErr: errors.New("no audio device")}
	c, _ := newTestController(engine)
	mouth := &mouthRecorder{}

	assert.NotPanics(t, func() { c.Speak("こんにちは", mouth.set) })
	assert.False(t, c.IsSpeaking())
	assert.Equal(t, []bool{false}, mouth.get())
}

func TestSpeak_SupersededUtteranceIgnored(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestController(engine)
	first, second := &mouthRecorder{}, &mouthRecorder{}

	c.Speak("一つ目", first.set)
	c.Speak("二つ目", second.set)
	assert.GreaterOrEqual(t, engine.stops, 2, "prior utterance stopped")

	assert.Equal(t, []bool{false}, first.get(), "interrupted utterance closes its mouth")

	engine.emit(0, Event{Type: EventWord})
	engine.emit(0, Event{Type: EventEnd})
	assert.Equal(t, []bool{false}, first.get())
	assert.True(t, c.IsSpeaking(), "old end must not finish the new utterance")

	engine.emit(1, Event{Type: EventWord})
	assert.True(t, second.open())
}

func TestStop_IsIdempotentAndClosesMouth(t *testing.T) {
	engine := &fakeEngine{}
	c, clock := newTestController(engine)
	mouth := &mouthRecorder{}
	c.Speak("こんにちは", mouth.set)
	engine.last(Event{Type: EventWord})

	c.Stop()
	c.Stop()

	assert.False(t, c.IsSpeaking())
	assert.False(t, mouth.open())
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, []bool{true, false}, mouth.get())
	assert.Equal(t, 3, engine.stops) // one from Speak, two explicit
}

func TestToggle_IsInvolution(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestController(engine)
	before := c.IsEnabled()
	c.Speak("こんにちは", nil)
	stops := engine.stops

	assert.False(t, c.Toggle())
	assert.Equal(t, stops+1, engine.stops, "disabling stops speech")
	assert.False(t, c.IsSpeaking())

	assert.True(t, c.Toggle())
	assert.Equal(t, before, c.IsEnabled())
}

func TestSpeak_DisabledIsNoop(t *testing.T) {
	engine := &fakeEngine{}
	c, _ := newTestController(engine)
	c.SetEnabled(false)

	c.Speak("こんにちは", nil)
	assert.Empty(t, engine.spoken)
	c.Speak("   ", nil)
	assert.Empty(t, engine.spoken)
}

func TestFindVoice(t *testing.T) {
	v, err := FindVoice(jaVoices, "ja-JP", "")
	require.NoError(t, err)
	assert.Equal(t, "Kyoko", v.ID)

	voices := append([]Voice{{ID: "Otoya", Language: "ja_JP"}}, jaVoices...)
	v, err = FindVoice(voices, "ja", "Kyoko")
	require.NoError(t, err)
	assert.Equal(t, "Kyoko", v.ID)

	_, err = FindVoice(jaVoices, "fr-FR", "")
	assert.ErrorIs(t, err, ErrVoiceNotFound)
}

func TestPrimaryLanguage(t *testing.T) {
	assert.Equal(t, "ja", PrimaryLanguage("ja-JP"))
	assert.Equal(t, "ja", PrimaryLanguage("ja_JP"))
	assert.Equal(t, "en", PrimaryLanguage(" EN "))
}
