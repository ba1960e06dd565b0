package avatar

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SpriteWatcher reloads sprite files when they are written.
type SpriteWatcher struct {
	watcher  *fsnotify.Watcher
	surface  *SpriteSurface
	onReload func(Frame)
	logger   zerolog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// Watch starts watching the surface's sprite directory. onReload is called
// after each successful reload and may be nil.
func Watch(surface *SpriteSurface, onReload func(Frame), logger zerolog.Logger) (*SpriteWatcher, error) {
	if surface.Dir() == "" {
		return nil, errors.New("embedded sprites cannot be watched")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(surface.Dir()); err != nil {
		watcher.Close()
		return nil, err
	}

	sw := &SpriteWatcher{
		watcher:  watcher,
		surface:  surface,
		onReload: onReload,
		logger:   logger.With().Str("component", "avatar.watch").Logger(),
		done:     make(chan struct{}),
	}
	sw.wg.Add(1)
	go sw.watchLoop()
	return sw, nil
}

func frameForFile(name string) (Frame, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".txt")
	for _, f := range Frames {
		if string(f) == base && strings.HasSuffix(name, ".txt") {
			return f, true
		}
	}
	return "", false
}

func (sw *SpriteWatcher) watchLoop() {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			frame, ok := frameForFile(event.Name)
			if !ok {
				continue
			}
			err := sw.surface.Reload(frame)
			if errors.Is(err, ErrFallbackActive) {
				sw.logger.Debug().Str("frame", string(frame)).Msg("Sprite change ignored, fallback active")
				continue
			}
			if err != nil {
				sw.logger.Warn().Err(err).Str("file", event.Name).Msg("Sprite reload failed")
				continue
			}
			sw.logger.Debug().Str("frame", string(frame)).Msg("Sprite reloaded")
			if sw.onReload != nil {
				sw.onReload(frame)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn().Err(err).Msg("Sprite watcher error")
		}
	}
}

// Close stops the watcher and waits for its goroutine.
func (sw *SpriteWatcher) Close() error {
	var err error
	sw.once.Do(func() {
		close(sw.done)
		err = sw.watcher.Close()
		sw.wg.Wait()
	})
	return err
}
