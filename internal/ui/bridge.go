package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/normanking/mikochat/internal/bus"
)

// busMsg carries a bus event into the program.
type busMsg struct {
	event bus.Event
}

const bridgeBuffer = 256

// Bridge forwards every bus event to send, normally tea.Program.Send. Bus
// handlers run on the publisher's goroutine, and Program.Send blocks until the
// event loop receives, so events pass through a buffered channel drained by a
// separate goroutine. When the buffer is full events are dropped; the view
// re-reads state on the next event anyway. The returned func stops forwarding.
func Bridge(b *bus.EventBus, send func(tea.Msg)) (stop func()) {
	ch := make(chan bus.Event, bridgeBuffer)
	done := make(chan struct{})

	b.SubscribeMultiple(bus.AllEventTypes, func(e bus.Event) {
		select {
		case <-done:
		case ch <- e:
		default:
		}
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case e := <-ch:
				send(busMsg{event: e})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
