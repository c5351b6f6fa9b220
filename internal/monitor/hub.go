package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/indoor-pilot/internal/flight"
	"github.com/roman-kulish/indoor-pilot/internal/telemetry"
)

const (
	clientQueueSize = 64
	writeTimeout    = time.Second
	shutdownTimeout = 2 * time.Second
)

// WithHubLogger sets the logger for the hub
func WithHubLogger(logger *slog.Logger) func(h *Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "hub"))
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes controller ticks to WebSocket clients on /ws and serves the
// latest telemetry snapshot on /api/telemetry.
type Hub struct {
	provider telemetry.Provider
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	lastTick atomic.Pointer[flight.Tick]
	logger   *slog.Logger
}

func NewHub(provider telemetry.Provider, options ...func(h *Hub)) *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	h := Hub{
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		logger:  logger,
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Handler returns the HTTP routes of the hub
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.serveWS)
	mux.HandleFunc("GET /api/telemetry", h.serveTelemetry)
	mux.HandleFunc("GET /api/tick", h.serveTick)
	return mux
}

// Serve listens on addr until ctx is done
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.closeClients()
		_ = srv.Shutdown(ctx)
	}()

	h.logger.Info("monitor listening on " + addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving monitor: %w", err)
	}
	return nil
}

// Clients returns the number of connected WebSocket clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Record implements flight.Sink
func (h *Hub) Record(t flight.Tick) {
	h.lastTick.Store(&t)
	h.broadcast(tickMessage(t))
}

// PhaseChanged implements flight.PhaseObserver
func (h *Hub) PhaseChanged(from, to flight.Phase) {
	h.broadcast(phaseMessage(from, to))
}

func (h *Hub) broadcast(m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		h.logger.Error(fmt.Sprintf("marshaling %s message: %s", m.Type, err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("client too slow, dropping message", slog.String("remote", c.conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("websocket upgrade error: %s", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("client connected", slog.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards client messages and unregisters the client once the connection fails
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug(fmt.Sprintf("websocket error: %s", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug(fmt.Sprintf("websocket write error: %s", err.Error()))
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "pilot stopped"),
		time.Now().Add(writeTimeout))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) serveTelemetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.provider.Snapshot())
}

func (h *Hub) serveTick(w http.ResponseWriter, _ *http.Request) {
	t := h.lastTick.Load()
	if t == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, t)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
