// Package overlay serves the event bus over WebSocket so external frontends
// (a browser overlay, a streaming widget) can mirror the avatar and chat state.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/mikochat/internal/bus"
	"github.com/rs/zerolog"
)

const (
	// DefaultPort is the default listen port.
	DefaultPort = 8766

	// EventsEndpoint is the path for WebSocket connections.
	EventsEndpoint = "/events"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/health"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

// Config configures the server.
type Config struct {
	Port int
	// ReplayCount is how many recent events a new client receives on connect.
	ReplayCount int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{Port: DefaultPort, ReplayCount: 50}
}

// Message is the JSON sent to clients for each bus event.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	TS   int64          `json:"ts"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Server forwards every bus event to connected WebSocket clients.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	recent  [][]byte
	running bool
	stopped bool

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a server subscribed to b. Events published before Start are
// kept for replay.
func New(b *bus.EventBus, cfg Config, logger zerolog.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReplayCount < 0 {
		cfg.ReplayCount = 0
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "overlay").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is read-only and bound to localhost.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
	b.SubscribeMultiple(bus.AllEventTypes, s.handleBusEvent)
	return s
}

// Handler returns the HTTP handler serving the events and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(EventsEndpoint, s.handleWebSocket)
	mux.HandleFunc(HealthEndpoint, s.handleHealth)
	return mux
}

// Start listens on localhost at the configured port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return errors.New("overlay already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Overlay server failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Overlay server started")
	return nil
}

// Addr returns the listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop disconnects clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	srv := s.server
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	s.wg.Wait()
	s.logger.Info().Msg("Overlay server stopped")
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleBusEvent(e bus.Event) {
	data, err := json.Marshal(Message{Type: string(e.Type), Data: e.Data, TS: s.now().UnixMilli()})
	if err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to marshal event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.ReplayCount > 0 {
		s.recent = append(s.recent, data)
		if len(s.recent) > s.cfg.ReplayCount {
			s.recent = s.recent[len(s.recent)-s.cfg.ReplayCount:]
		}
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than block the publisher.
			c.close()
			delete(s.clients, c)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	replay := r.URL.Query().Get("replay") != "false"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if replay {
		for _, data := range s.recent {
			select {
			case c.send <- data:
			default:
			}
		}
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", count).Msg("Client connected")

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()
}

func (s *Server) writePump(c *client) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(c)
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	defer s.wg.Done()
	defer s.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status  string `json:"status"`
		Service string `json:"service"`
		Clients int    `json:"clients"`
	}{
		Status:  "healthy",
		Service: "mikochat-overlay",
		Clients: s.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
