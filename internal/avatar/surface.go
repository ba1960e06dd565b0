package avatar

import (
	"errors"

	"github.com/normanking/mikochat/internal/bus"
)

// ErrAssetLoad wraps every sprite load failure reported through Surface.Load.
var ErrAssetLoad = errors.New("avatar asset load failed")

// Surface displays frames. Load reports each variant that fails to load via
// onError, possibly asynchronously and possibly more than once per variant.
type Surface interface {
	Load(frames []Frame, onError func(Frame, error))
	Show(frame Frame)
	InstallFallback()
	ShowFallback(face Face)
	Clear()
}

type multiSurface []Surface

// Surfaces fans every call out to each surface in order.
func Surfaces(surfaces ...Surface) Surface {
	return multiSurface(surfaces)
}

func (m multiSurface) Load(frames []Frame, onError func(Frame, error)) {
	for _, s := range m {
		s.Load(frames, onError)
	}
}

func (m multiSurface) Show(frame Frame) {
	for _, s := range m {
		s.Show(frame)
	}
}

func (m multiSurface) InstallFallback() {
	for _, s := range m {
		s.InstallFallback()
	}
}

func (m multiSurface) ShowFallback(face Face) {
	for _, s := range m {
		s.ShowFallback(face)
	}
}

func (m multiSurface) Clear() {
	for _, s := range m {
		s.Clear()
	}
}

// BusSurface publishes what is displayed. It has no assets of its own.
type BusSurface struct {
	bus *bus.EventBus
}

// NewBusSurface creates a surface that publishes on b.
func NewBusSurface(b *bus.EventBus) *BusSurface {
	return &BusSurface{bus: b}
}

func (s *BusSurface) Load([]Frame, func(Frame, error)) {}

func (s *BusSurface) Show(frame Frame) {
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeFrameChanged,
		Data: map[string]any{"frame": string(frame), "fallback": false},
	})
}

func (s *BusSurface) InstallFallback() {
	s.bus.Publish(bus.Event{Type: bus.EventTypeFallbackInstalled})
}

func (s *BusSurface) ShowFallback(face Face) {
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeFrameChanged,
		Data: map[string]any{
			"frame":    string(FrameFor(face.MouthOpen, face.Blinking)),
			"fallback": true,
			"svg":      face.SVG(),
		},
	})
}

func (s *BusSurface) Clear() {
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeFrameChanged,
		Data: map[string]any{"frame": "", "fallback": false},
	})
}
