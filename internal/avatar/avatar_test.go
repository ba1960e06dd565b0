package avatar

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/normanking/mikochat/internal/bus"
	"github.com/normanking/mikochat/internal/sched"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSurface records every call and can fail a set of frames on Load.
type recordingSurface struct {
	mu        sync.Mutex
	fail      map[Frame]bool
	onError   func(Frame, error)
	shows     []Frame
	fallbacks []Face
	installs  int
	clears    int
}

func (s *recordingSurface) Load(frames []Frame, onError func(Frame, error)) {
	s.mu.Lock()
	s.onError = onError
	s.mu.Unlock()
	for _, f := range frames {
		if s.fail[f] {
			onError(f, ErrAssetLoad)
		}
	}
}

func (s *recordingSurface) Show(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows = append(s.shows, f)
}

func (s *recordingSurface) InstallFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installs++
}

func (s *recordingSurface) ShowFallback(face Face) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks = append(s.fallbacks, face)
}

func (s *recordingSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *recordingSurface) last() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.shows) == 0 {
		return ""
	}
	return s.shows[len(s.shows)-1]
}

func (s *recordingSurface) fail4(err error) {
	s.mu.Lock()
	onError := s.onError
	s.mu.Unlock()
	for _, f := range Frames {
		onError(f, err)
	}
}

func newTestController(surface Surface) (*Controller, *sched.FakeClock) {
	clock := sched.NewFakeClock(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.Rand = func() float64 { return 0.5 }
	return NewController(surface, clock, cfg, zerolog.Nop()), clock
}

func TestFrameFor_IsTotal(t *testing.T) {
	seen := map[Frame]bool{}
	for _, mouth := range []bool{false, true} {
		for _, blink := range []bool{false, true} {
			f := FrameFor(mouth, blink)
			assert.Contains(t, Frames, f)
			assert.Equal(t, mouth, f.MouthOpen())
			assert.Equal(t, blink, f.Blinking())
			seen[f] = true
		}
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, FrameMouthClosedEyesOpen, FrameFor(false, false))
	assert.Equal(t, FrameMouthOpenEyesClosed, FrameFor(true, true))
}

func TestController_StartShowsInitialFrame(t *testing.T) {
	surface := &recordingSurface{}
	c, clock := newTestController(surface)
	defer c.Destroy()

	c.Start()
	c.Start()

	assert.Equal(t, FrameMouthClosedEyesOpen, surface.last())
	assert.Equal(t, 1, clock.Pending(), "one blink cycle")
}

func TestController_BlinkCycle(t *testing.T) {
	surface := &recordingSurface{}
	c, clock := newTestController(surface)
	defer c.Destroy()
	c.Start()

	// Rand 0.5 -> blink after 4s, hold 150ms
	clock.Advance(3999 * time.Millisecond)
	assert.Equal(t, FrameMouthClosedEyesOpen, c.Frame())

	clock.Advance(time.Millisecond)
	assert.Equal(t, FrameMouthClosedEyesClosed, c.Frame())
	assert.Equal(t, FrameMouthClosedEyesClosed, surface.last())

	clock.Advance(149 * time.Millisecond)
	assert.Equal(t, FrameMouthClosedEyesClosed, c.Frame())

	clock.Advance(time.Millisecond)
	assert.Equal(t, FrameMouthClosedEyesOpen, surface.last())

	next, ok := clock.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, next, "cycle rescheduled")
}

func TestController_BlinkRange(t *testing.T) {
	surface := &recordingSurface{}
	clock := sched.NewFakeClock(time.Unix(0, 0))
	cfg := DefaultConfig()
	cfg.Rand = func() float64 { return 0 }
	c := NewController(surface, clock, cfg, zerolog.Nop())
	defer c.Destroy()
	c.Start()

	next, _ := clock.NextDeadline()
	assert.Equal(t, 2*time.Second, next)
	clock.Advance(next)
	hold, _ := clock.NextDeadline()
	assert.Equal(t, 100*time.Millisecond, hold)
}

func TestController_SetMouthOpenRendersSynchronously(t *testing.T) {
	surface := &recordingSurface{}
	c, clock := newTestController(surface)
	defer c.Destroy()
	c.Start()

	c.SetMouthOpen(true)
	assert.Equal(t, FrameMouthOpenEyesOpen, surface.last())

	clock.Advance(4 * time.Second)
	assert.Equal(t, FrameMouthOpenEyesClosed, surface.last())

	c.SetMouthOpen(false)
	assert.Equal(t, FrameMouthClosedEyesClosed, surface.last())
}

func TestController_FallbackInstalledOnce(t *testing.T) {
	surface := &recordingSurface{fail: map[Frame]bool{}}
	for _, f := range Frames {
		surface.fail[f] = true
	}
	c, _ := newTestController(surface)
	defer c.Destroy()
	c.Start()

	assert.True(t, c.UsingFallback())
	assert.Equal(t, 1, surface.installs)

	// the second round of failures must not reinstall
	surface.fail4(ErrAssetLoad)
	assert.Equal(t, 1, surface.installs)

	c.SetMouthOpen(true)
	require.NotEmpty(t, surface.fallbacks)
	assert.Equal(t, FaceFor(true, false), surface.fallbacks[len(surface.fallbacks)-1])
}

func TestController_RepeatedFailuresOfSameFrameDoNotCount(t *testing.T) {
	surface := &recordingSurface{}
	c, _ := newTestController(surface)
	defer c.Destroy()
	c.Start()

	for i := 0; i < 4; i++ {
		surface.onError(FrameMouthClosedEyesOpen, ErrAssetLoad)
		surface.onError(FrameMouthOpenEyesOpen, ErrAssetLoad)
		surface.onError(FrameMouthOpenEyesClosed, ErrAssetLoad)
	}
	assert.False(t, c.UsingFallback())
	assert.Equal(t, 0, surface.installs)

	surface.onError(FrameMouthClosedEyesClosed, ErrAssetLoad)
	assert.True(t, c.UsingFallback())
}

func TestController_DestroyCancelsAndResets(t *testing.T) {
	surface := &recordingSurface{}
	c, clock := newTestController(surface)
	c.Start()
	c.SetMouthOpen(true)
	clock.Advance(4 * time.Second) // eyes closed, hold pending

	c.Destroy()
	c.Destroy()

	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, 1, surface.clears)
	assert.Equal(t, FrameMouthClosedEyesOpen, c.Frame())
	assert.False(t, c.MouthOpen())

	shows := len(surface.shows)
	clock.Advance(time.Minute)
	c.SetMouthOpen(true)
	assert.Len(t, surface.shows, shows, "no rendering after destroy")
}

func TestController_RestartRetriesSpritesAfterFallback(t *testing.T) {
	surface := &recordingSurface{fail: map[Frame]bool{}}
	for _, f := range Frames {
		surface.fail[f] = true
	}
	c, _ := newTestController(surface)
	defer c.Destroy()

	c.Start()
	require.True(t, c.UsingFallback())
	c.SetMouthOpen(true)
	assert.True(t, c.UsingFallback(), "fallback stays for the lifetime")

	c.Destroy()
	assert.False(t, c.UsingFallback())

	surface.mu.Lock()
	surface.fail = nil
	surface.mu.Unlock()
	c.Start()
	assert.False(t, c.UsingFallback())
	assert.Equal(t, FrameMouthClosedEyesOpen, surface.last())
	assert.Equal(t, 1, surface.installs)
}

func TestController_StaleLoadErrorsIgnoredAfterRestart(t *testing.T) {
	surface := &recordingSurface{}
	c, _ := newTestController(surface)
	c.Start()
	stale := surface.onError
	c.Destroy()

	c.Start()
	defer c.Destroy()
	for _, f := range Frames {
		stale(f, ErrAssetLoad)
	}
	assert.False(t, c.UsingFallback())
}

func TestSpriteSurface_Embedded(t *testing.T) {
	s := NewSpriteSurface("")
	var errs []error
	s.Load(Frames, func(_ Frame, err error) { errs = append(errs, err) })
	require.Empty(t, errs)

	s.Show(FrameMouthOpenEyesOpen)
	assert.Contains(t, s.Art(), "(o) (o)")
	assert.Contains(t, s.Art(), ".-.")

	s.Show(FrameMouthClosedEyesClosed)
	assert.Contains(t, s.Art(), "--- ---")
}

func TestSpriteSurface_MissingDirFallsBack(t *testing.T) {
	s := NewSpriteSurface(filepath.Join(t.TempDir(), "missing"))
	c, _ := newTestController(s)
	defer c.Destroy()

	var errs []error
	s.Load(Frames, func(_ Frame, err error) { errs = append(errs, err) })
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.True(t, errors.Is(err, ErrAssetLoad))
	}

	c.Start()
	assert.True(t, c.UsingFallback())
	assert.True(t, s.Fallback())
	assert.Equal(t, FaceFor(false, false).ASCII(), s.Art())

	c.SetMouthOpen(true)
	assert.Contains(t, s.Art(), "(O)")
}

func TestFace_SVGGeometry(t *testing.T) {
	open := FaceFor(true, false).SVG()
	assert.Contains(t, open, `rx="15" ry="7" fill="#C62828"`)
	assert.Contains(t, open, `<circle cx="70" cy="85" r="8"`)

	closed := FaceFor(false, true).SVG()
	assert.Contains(t, closed, `rx="12" ry="1" fill="#333"`)
	assert.Contains(t, closed, `<line x1="58" y1="85" x2="82"`)
	assert.Contains(t, closed, `<line x1="118" y1="85" x2="142"`)
	assert.NotContains(t, closed, `r="8"`)
}

func TestFace_ASCII(t *testing.T) {
	assert.Contains(t, FaceFor(false, false).ASCII(), "O     O")
	assert.Contains(t, FaceFor(false, true).ASCII(), "-     -")
	assert.Contains(t, FaceFor(false, true).ASCII(), "---")
}

func TestSurfaces_FanOut(t *testing.T) {
	a, b := &recordingSurface{}, &recordingSurface{}
	s := Surfaces(a, b)
	s.Show(FrameMouthOpenEyesOpen)
	s.InstallFallback()
	s.Clear()

	for _, r := range []*recordingSurface{a, b} {
		assert.Equal(t, FrameMouthOpenEyesOpen, r.last())
		assert.Equal(t, 1, r.installs)
		assert.Equal(t, 1, r.clears)
	}
}

func TestBusSurface_Publishes(t *testing.T) {
	b := bus.NewEventBus()
	var events []bus.Event
	b.SubscribeMultiple(bus.AllEventTypes, func(e bus.Event) { events = append(events, e) })

	s := NewBusSurface(b)
	s.Show(FrameMouthOpenEyesClosed)
	s.InstallFallback()
	s.ShowFallback(FaceFor(true, false))

	require.Len(t, events, 3)
	assert.Equal(t, "mouth_open_eyes_closed", events[0].Data["frame"])
	assert.Equal(t, bus.EventTypeFallbackInstalled, events[1].Type)
	assert.Equal(t, true, events[2].Data["fallback"])
	assert.Contains(t, events[2].Data["svg"], "#C62828")
}

func copySprites(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range Frames {
		data, err := fs.ReadFile(embeddedSprites, "sprites/"+SpriteFile(f))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, SpriteFile(f)), data, 0644))
	}
	return dir
}

func TestWatch_ReloadsWrittenSprite(t *testing.T) {
	dir := copySprites(t)
	s := NewSpriteSurface(dir)
	s.Load(Frames, func(f Frame, err error) { t.Errorf("unexpected load failure %s: %v", f, err) })
	s.Show(FrameMouthClosedEyesOpen)

	reloaded := make(chan Frame, 8)
	w, err := Watch(s, func(f Frame) {
		select {
		case reloaded <- f:
		default:
		}
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, SpriteFile(FrameMouthClosedEyesOpen)), []byte("new face"), 0644))

	require.Eventually(t, func() bool { return s.Art() == "new face" }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, FrameMouthClosedEyesOpen, <-reloaded)
	require.NoError(t, w.Close())
}

func TestSpriteSurface_FallbackSurvivesReloadAndShow(t *testing.T) {
	dir := t.TempDir()
	s := NewSpriteSurface(dir)
	c, _ := newTestController(s)
	defer c.Destroy()

	c.Start()
	require.True(t, s.Fallback())
	face := FaceFor(false, false).ASCII()
	require.Equal(t, face, s.Art())

	require.NoError(t, os.WriteFile(filepath.Join(dir, SpriteFile(FrameMouthClosedEyesOpen)), []byte("new face"), 0644))
	assert.ErrorIs(t, s.Reload(FrameMouthClosedEyesOpen), ErrFallbackActive)

	s.Show(FrameMouthClosedEyesOpen)
	assert.Equal(t, face, s.Art())

	c.Redraw(FrameMouthClosedEyesOpen)
	assert.Equal(t, face, s.Art())
}

func TestWatch_SpriteWrittenAfterFallbackKeepsFace(t *testing.T) {
	dir := t.TempDir()
	s := NewSpriteSurface(dir)
	c, _ := newTestController(s)
	defer c.Destroy()
	c.Start()
	require.True(t, c.UsingFallback())

	var mu sync.Mutex
	var redraws []Frame
	w, err := Watch(s, func(f Frame) {
		mu.Lock()
		redraws = append(redraws, f)
		mu.Unlock()
		c.Redraw(f)
	}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, SpriteFile(FrameMouthClosedEyesOpen)), []byte("new face"), 0644))

	face := FaceFor(false, false).ASCII()
	assert.Never(t, func() bool { return s.Art() != face }, 300*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, w.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, redraws)
}

func TestController_RedrawOnlyForCurrentFrame(t *testing.T) {
	r := &recordingSurface{}
	c, _ := newTestController(r)
	defer c.Destroy()

	c.Redraw(FrameMouthClosedEyesOpen)
	assert.Empty(t, r.shows)

	c.Start()
	require.Len(t, r.shows, 1)

	c.Redraw(FrameMouthOpenEyesOpen)
	assert.Len(t, r.shows, 1)

	c.Redraw(FrameMouthClosedEyesOpen)
	require.Len(t, r.shows, 2)
	assert.Equal(t, FrameMouthClosedEyesOpen, r.last())
}

func TestWatch_RejectsEmbedded(t *testing.T) {
	_, err := Watch(NewSpriteSurface(""), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestFrameForFile(t *testing.T) {
	f, ok := frameForFile("/tmp/x/mouth_open_eyes_open.txt")
	assert.True(t, ok)
	assert.Equal(t, FrameMouthOpenEyesOpen, f)

	_, ok = frameForFile("/tmp/x/mouth_open_eyes_open.png")
	assert.False(t, ok)
	_, ok = frameForFile("/tmp/x/readme.txt")
	assert.False(t, ok)
}
