// Package avatar animates the companion's face: a blink cycle and a mouth flag
// select one of four sprite variants, with a synthesized face when the sprites
// cannot be loaded.
package avatar

// Frame is one of the four display variants.
type Frame string

const (
	FrameMouthClosedEyesOpen   Frame = "mouth_closed_eyes_open"
	FrameMouthClosedEyesClosed Frame = "mouth_closed_eyes_closed"
	FrameMouthOpenEyesOpen     Frame = "mouth_open_eyes_open"
	FrameMouthOpenEyesClosed   Frame = "mouth_open_eyes_closed"
)

// Frames lists every variant in load order.
var Frames = []Frame{
	FrameMouthClosedEyesOpen,
	FrameMouthClosedEyesClosed,
	FrameMouthOpenEyesOpen,
	FrameMouthOpenEyesClosed,
}

// FrameFor selects the variant for a mouth/eye combination.
func FrameFor(mouthOpen, blinking bool) Frame {
	switch {
	case mouthOpen && blinking:
		return FrameMouthOpenEyesClosed
	case mouthOpen:
		return FrameMouthOpenEyesOpen
	case blinking:
		return FrameMouthClosedEyesClosed
	default:
		return FrameMouthClosedEyesOpen
	}
}

// MouthOpen reports the mouth flag encoded in f.
func (f Frame) MouthOpen() bool {
	return f == FrameMouthOpenEyesOpen || f == FrameMouthOpenEyesClosed
}

// Blinking reports the eye flag encoded in f.
func (f Frame) Blinking() bool {
	return f == FrameMouthClosedEyesClosed || f == FrameMouthOpenEyesClosed
}
