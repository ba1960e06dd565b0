package avatar

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrFallbackActive is returned by Reload once the ASCII fallback replaced
// the sprites.
var ErrFallbackActive = errors.New("sprite fallback active")

//go:embed sprites/*.txt
var embeddedSprites embed.FS

// SpriteFile is the file name holding a frame's art.
func SpriteFile(f Frame) string {
	return string(f) + ".txt"
}

// SpriteSurface renders frames as text art. Sprites come from dir when set,
// otherwise from the embedded default set.
type SpriteSurface struct {
	mu       sync.RWMutex
	dir      string
	art      map[Frame]string
	current  string
	frame    Frame
	fallback bool
}

// NewSpriteSurface creates a surface reading sprites from dir ("" for the
// embedded set).
func NewSpriteSurface(dir string) *SpriteSurface {
	return &SpriteSurface{dir: dir, art: make(map[Frame]string)}
}

// Dir returns the sprite directory, empty for the embedded set.
func (s *SpriteSurface) Dir() string {
	return s.dir
}

func (s *SpriteSurface) read(f Frame) (string, error) {
	var (
		data []byte
		err  error
	)
	if s.dir == "" {
		data, err = fs.ReadFile(embeddedSprites, "sprites/"+SpriteFile(f))
	} else {
		data, err = os.ReadFile(filepath.Join(s.dir, SpriteFile(f)))
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrAssetLoad, f, err)
	}
	art := strings.TrimRight(string(data), "\n")
	if strings.TrimSpace(art) == "" {
		return "", fmt.Errorf("%w: %s: empty sprite", ErrAssetLoad, f)
	}
	return art, nil
}

// Load reads every frame, reporting failures synchronously.
func (s *SpriteSurface) Load(frames []Frame, onError func(Frame, error)) {
	for _, f := range frames {
		art, err := s.read(f)
		if err != nil {
			onError(f, err)
			continue
		}
		s.mu.Lock()
		s.art[f] = art
		s.mu.Unlock()
	}
}

// Reload re-reads one frame from disk. Once the fallback is installed it
// returns ErrFallbackActive and leaves the surface alone.
func (s *SpriteSurface) Reload(f Frame) error {
	s.mu.RLock()
	fallback := s.fallback
	s.mu.RUnlock()
	if fallback {
		return ErrFallbackActive
	}

	art, err := s.read(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.art[f] = art
	if s.frame == f && !s.fallback {
		s.current = art
	}
	return nil
}

// Show displays the sprite for f. It does nothing while the fallback is
// installed; ShowFallback draws instead.
func (s *SpriteSurface) Show(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback {
		return
	}
	s.frame = f
	s.current = s.art[f]
}

func (s *SpriteSurface) InstallFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = true
}

func (s *SpriteSurface) ShowFallback(face Face) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = FrameFor(face.MouthOpen, face.Blinking)
	s.current = face.ASCII()
}

func (s *SpriteSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.frame = ""
	s.fallback = false
	s.art = make(map[Frame]string)
}

// Art returns the picture currently displayed.
func (s *SpriteSurface) Art() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Fallback reports whether the synthesized face is installed.
func (s *SpriteSurface) Fallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}
