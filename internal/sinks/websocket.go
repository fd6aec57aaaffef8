package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adverant/nexus/screenocr-worker/internal/logging"
	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

const (
	wsWriteWait  = 2 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// WebSocketHub broadcasts results to every connected browser or overlay
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketHub creates an empty hub. Origins are not checked: the hub is
// meant to be bound to a local or private address.
func NewWebSocketHub(logger *logging.Logger) *WebSocketHub {
	if logger == nil {
		logger = logging.NewLogger("WebSocketHub")
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *WebSocketHub) Name() string { return "websocket" }

// ServeHTTP upgrades the connection and keeps it registered until it closes
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("WebSocket client connected", "remote", r.RemoteAddr, "clients", total)

	stop := make(chan struct{})
	go h.pingLoop(c, stop)
	h.readLoop(c)
	close(stop)
	h.remove(c)
	h.logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr)
}

// readLoop discards inbound messages and returns when the peer goes away
func (h *WebSocketHub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHub) pingLoop(c *wsClient, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Deliver broadcasts the result. Clients whose write fails are dropped; the
// delivery fails only when every connected client failed.
func (h *WebSocketHub) Deliver(ctx context.Context, r ocr.Result) error {
	payload, err := json.Marshal(ocr.NewEvent(r))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	clients := h.snapshot()
	failed := 0
	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(deadline)
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			failed++
			h.logger.Debug("Dropping WebSocket client", "remote", c.conn.RemoteAddr().String(), "error", err)
			h.remove(c)
		}
	}

	if len(clients) > 0 && failed == len(clients) {
		return fmt.Errorf("broadcast failed for all %d clients", failed)
	}
	return nil
}

// Clients returns the number of connected clients
func (h *WebSocketHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *WebSocketHub) Close() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		h.remove(c)
	}
}

func (h *WebSocketHub) snapshot() []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *WebSocketHub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}
