package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"filedrop/internal/domain"
	"filedrop/internal/services/status"
)

const defaultScreen = "main"

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsClient is one progress screen. It observes the status publisher under
// its screen name and, when opened with an alias, the pending requests
// addressed to that alias.
type wsClient struct {
	hub    *wsHub
	conn   *websocket.Conn
	screen string

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newWSClient(hub *wsHub, conn *websocket.Conn, screen string) *wsClient {
	return &wsClient{
		hub:    hub,
		conn:   conn,
		screen: screen,
		send:   make(chan []byte, 256),
	}
}

// enqueue never blocks: a message for a full or closed client is dropped.
func (c *wsClient) enqueue(msgType string, data interface{}) bool {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		c.hub.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.logger.Debug("ws client buffer full, message dropped",
			slog.String("screen", c.screen),
			slog.String("type", msgType),
		)
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) OnStatus(event domain.StatusEvent) {
	c.enqueue("status", newStatusView(event))
}

func (c *wsClient) OnError(event domain.ErrorEvent) {
	c.enqueue("error", event)
}

func (c *wsClient) onRequestChange(change domain.RequestChange) {
	msgType := "request_added"
	if change.Kind == domain.ChangeRemoved {
		msgType = "request_removed"
	}
	c.enqueue(msgType, change.Request)
}

type wsHub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
	logger     *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case <-h.done:
			for client := range h.clients {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				client.close()
				delete(h.clients, client)
			}
			h.count.Store(0)
			h.logger.Debug("ws hub stopped, all clients disconnected")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug("ws client connected",
				slog.String("screen", client.screen),
				slog.Int("total", len(h.clients)),
			)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.count.Store(int64(len(h.clients)))
				h.logger.Debug("ws client disconnected",
					slog.String("screen", client.screen),
					slog.Int("total", len(h.clients)),
				)
			}
		}
	}
}

// add registers c. It reports false once the hub is closed.
func (h *wsHub) add(c *wsClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *wsHub) remove(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Close signals the hub to stop and disconnect all clients.
func (h *wsHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *wsHub) clientCount() int {
	return int(h.count.Load())
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.allowedOrigins, origin)
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	screen := strings.TrimSpace(query.Get("screen"))
	if screen == "" {
		screen = defaultScreen
	}
	if screen == status.SnapshotScreen {
		writeError(w, http.StatusBadRequest, "invalid_request", "screen name is reserved")
		return
	}
	alias := strings.TrimSpace(query.Get("alias"))

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := newWSClient(s.wsHub, conn, screen)
	if !s.wsHub.add(client) {
		_ = conn.Close()
		return
	}

	// The request context ends when this handler returns; the connection
	// outlives it.
	ctx, cancel := context.WithCancel(context.Background())
	cleanups := []func(){cancel}
	if s.observers != nil {
		cleanups = append(cleanups, s.observers.Attach(screen, client))
	}
	if alias != "" && s.requests != nil {
		sub, err := s.requests.Subscribe(ctx, alias, client.onRequestChange)
		if err != nil {
			client.OnError(domain.ErrorEvent{Message: "request watch failed: " + err.Error()})
		} else {
			cleanups = append(cleanups, sub.Close)
		}
	}

	go client.writePump()
	go client.readPump(func() {
		for _, f := range cleanups {
			f()
		}
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(onClose func()) {
	defer func() {
		onClose()
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
