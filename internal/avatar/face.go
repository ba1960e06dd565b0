package avatar

import (
	"fmt"
	"strings"
)

// Face is the synthesized fallback drawing for one mouth/eye combination.
type Face struct {
	MouthOpen bool
	Blinking  bool
}

// FaceFor returns the fallback face for a mouth/eye combination.
func FaceFor(mouthOpen, blinking bool) Face {
	return Face{MouthOpen: mouthOpen, Blinking: blinking}
}

// Ellipse is the mouth geometry in the 200x200 face viewBox.
type Ellipse struct {
	Cx, Cy, Rx, Ry int
	Fill           string
}

// Mouth returns the mouth ellipse.
func (f Face) Mouth() Ellipse {
	if f.MouthOpen {
		return Ellipse{Cx: 100, Cy: 130, Rx: 15, Ry: 7, Fill: "#C62828"}
	}
	return Ellipse{Cx: 100, Cy: 130, Rx: 12, Ry: 1, Fill: "#333"}
}

// SVG renders the face as a standalone SVG document.
func (f Face) SVG() string {
	var sb strings.Builder
	sb.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="200" height="200" viewBox="0 0 200 200">`)
	sb.WriteString(`<circle cx="100" cy="100" r="80" fill="#FFE0B2" stroke="#E0A060" stroke-width="2"/>`)
	for _, cx := range []int{70, 130} {
		if f.Blinking {
			fmt.Fprintf(&sb, `<line x1="%d" y1="85" x2="%d" y2="85" stroke="#333" stroke-width="2" stroke-linecap="round"/>`, cx-12, cx+12)
		} else {
			fmt.Fprintf(&sb, `<circle cx="%d" cy="85" r="8" fill="#333"/>`, cx)
		}
	}
	m := f.Mouth()
	fmt.Fprintf(&sb, `<ellipse cx="%d" cy="%d" rx="%d" ry="%d" fill="%s" stroke="#333" stroke-width="1"/>`,
		m.Cx, m.Cy, m.Rx, m.Ry, m.Fill)
	sb.WriteString(`</svg>`)
	return sb.String()
}

// ASCII renders the face for a terminal.
func (f Face) ASCII() string {
	eye := "O"
	if f.Blinking {
		eye = "-"
	}
	mouth := "---"
	if f.MouthOpen {
		mouth = "(O)"
	}
	return strings.Join([]string{
		" +-----------+",
		fmt.Sprintf(" |  %s     %s  |", eye, eye),
		" |           |",
		fmt.Sprintf(" |    %s    |", mouth),
		" +-----------+",
	}, "\n")
}
