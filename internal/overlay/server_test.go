package overlay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/mikochat/internal/bus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *bus.EventBus, *httptest.Server) {
	t.Helper()
	b := bus.NewEventBus()
	s := New(b, cfg, zerolog.Nop())
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, b, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + EventsEndpoint + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestEventsForwardedToClients(t *testing.T) {
	s, b, ts := newTestServer(t, Config{ReplayCount: 0})
	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	b.Publish(bus.Event{Type: bus.EventTypeFrameChanged, Data: map[string]any{"frame": "mouth_open"}})
	b.Publish(bus.Event{Type: bus.EventTypeSpeechStopped})

	msg := readMessage(t, conn)
	assert.Equal(t, "avatar.frame_changed", msg.Type)
	assert.Equal(t, "mouth_open", msg.Data["frame"])
	assert.Equal(t, int64(1700000000000), msg.TS)

	msg = readMessage(t, conn)
	assert.Equal(t, "tts.stopped", msg.Type)
	assert.Nil(t, msg.Data)
}

func TestNewClientReceivesReplay(t *testing.T) {
	s, b, ts := newTestServer(t, Config{ReplayCount: 2})

	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "a"}})
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "b"}})
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "c"}})

	conn := dial(t, ts, "")
	assert.Equal(t, "b", readMessage(t, conn).Data["text"])
	assert.Equal(t, "c", readMessage(t, conn).Data["text"])

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "d"}})
	assert.Equal(t, "d", readMessage(t, conn).Data["text"])
}

func TestReplayCanBeSkipped(t *testing.T) {
	s, b, ts := newTestServer(t, Config{ReplayCount: 10})
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "old"}})

	conn := dial(t, ts, "?replay=false")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	b.Publish(bus.Event{Type: bus.EventTypeStatusChanged, Data: map[string]any{"text": "new"}})
	assert.Equal(t, "new", readMessage(t, conn).Data["text"])
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	s, _, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts, "")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, DefaultConfig())

	resp, err := http.Get(ts.URL + HealthEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStartStop(t *testing.T) {
	b := bus.NewEventBus()
	s := New(b, Config{Port: freePort(t)}, zerolog.Nop())

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NotEmpty(t, s.Addr())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+EventsEndpoint, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 0, s.ClientCount())
	require.NoError(t, s.Stop(ctx))

	// The server closes the connection after stopping.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
