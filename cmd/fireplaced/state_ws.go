package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps
// ============================================================================
//
// Dashboards and wall panels subscribe to /ws for live run state. Messages
// are JSON text frames with an envelope {type, ts, data}:
//   - "state_init" with the current RunState, sent once on connect
//   - "run_state_changed" on start, live update and stop
//   - "volume_changed" whenever the shared level moves
//
// Per-client write pumps keep one slow client from blocking others; a client
// whose send buffer fills is disconnected.
// ============================================================================

// envelope is the wire format for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// wsVolumeData is the `data` payload for "volume_changed".
type wsVolumeData struct {
	Volume float64 `json:"volume"`
}

// ============================================================================
// Hub
// ============================================================================

// Hub fans serialized JSON frames out to the registered clients.
// Registration and removal happen directly under the clients mutex (pumps
// and HTTP handlers call add/removeClient themselves); only broadcasts go
// through a channel so producers never block on a slow fanout.
type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:    logger,
		broadcast: make(chan []byte, bcastBuf),
		clients:   make(map[*Client]struct{}),
		sendBuf:   sendBuf,
	}
}

// Run drains the broadcast queue until ctx is canceled, then disconnects
// all clients.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case msg := <-h.broadcast:
			// Collect slow clients while locked, remove them after unlocking,
			// so the clients map is never mutated mid-range.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// add registers a client for broadcasts.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

// removeClient disconnects a client. Safe to call from the fanout loop and
// from the client's own readPump; the membership check makes the close of
// the send channel run at most once per client.
func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send signals writePump to exit.
	close(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// logPumpExit records why a pump stopped, surfacing the close code when the
// peer sent one. ErrCloseSent is routine teardown and stays quiet.
func (c *Client) logPumpExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Info("ws pump exiting", "pump", pump, "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Info("ws pump exiting", "pump", pump, "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket and keeps
// the connection alive with pings. It exits on write error or when send is
// closed by the hub.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logPumpExit("write", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logPumpExit("write", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and
// handle control frames. On read error it removes the client from the hub.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, _, err := c.conn.ReadMessage()
		if err != nil {
			c.logPumpExit("read", err)
			if c.hub != nil {
				c.hub.removeClient(c, "read_closed")
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler + broadcast helpers
// ============================================================================

type stateServer struct {
	logger *slog.Logger
	hub    *Hub
	ctrl   *Controller
}

// newStateServer constructs the WS state server. Register the handler on a
// mux and start hub.Run(ctx).
func newStateServer(ctrl *Controller, logger *slog.Logger, cfg HubConfig) *stateServer {
	return &stateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		ctrl:   ctrl,
	}
}

func (s *stateServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *stateServer) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// NOTE: If you need stricter origin checks, implement them at integration time.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init with
// the current run state.
func (s *stateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach the client.
	s.hub.add(client)

	// Do not tie the pumps to the HTTP request context (r.Context()).
	// net/http cancels the request context when the handler returns, which
	// would prematurely stop the pumps and cause abnormal WS closures
	// (e.g. code 1006). The connection lifetime is managed by the hub and
	// by read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	initMsg, mErr := marshalEnvelope("state_init", s.ctrl.Status())
	if mErr != nil {
		s.logger.Warn("ws state_init marshal failed", "error", mErr)
		return
	}
	// Enqueue init message; if the client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.removeClient(client, "slow_client")
	}
}

// NotifyRunState broadcasts a run-state transition; wired to
// Controller.OnRunState.
func (s *stateServer) NotifyRunState(st RunState) {
	msg, err := marshalEnvelope("run_state_changed", st)
	if err != nil {
		s.logger.Warn("ws broadcast marshal failed", "error", err, "type", "run_state_changed")
		return
	}
	s.hub.BroadcastBytes(msg)
}

// NotifyVolume broadcasts a level change; subscribed to the shared counter.
func (s *stateServer) NotifyVolume(v float64) {
	msg, err := marshalEnvelope("volume_changed", wsVolumeData{Volume: v})
	if err != nil {
		s.logger.Warn("ws broadcast marshal failed", "error", err, "type", "volume_changed")
		return
	}
	s.hub.BroadcastBytes(msg)
}

func marshalEnvelope(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
}
