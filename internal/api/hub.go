package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/events"
	"github.com/inferloop/dashengine/internal/observability/metrics"
	"github.com/inferloop/dashengine/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Message is one frame pushed to websocket clients.
type Message struct {
	Type         string      `json:"type"`
	DashboardUID string      `json:"dashboardUid,omitempty"`
	SessionID    string      `json:"sessionId,omitempty"`
	Data         interface{} `json:"data"`
	Timestamp    time.Time   `json:"timestamp"`
}

type broadcast struct {
	uid     string
	payload []byte
}

// Hub fans engine events out to websocket clients. A client watches either
// every event of one dashboard or the state of one session.
type Hub struct {
	logger     *logrus.Logger
	metrics    *metrics.PrometheusMetrics
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan broadcast
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

type client struct {
	hub          *Hub
	conn         *websocket.Conn
	dashboardUID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
	// detach stops the session subscription, if any.
	detach func()
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(m *metrics.PrometheusMetrics, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger:     logger,
		metrics:    m,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcast, sendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach forwards every event of bus to the hub until the returned function
// is called.
func (h *Hub) Attach(bus *events.Bus) (detach func()) {
	return bus.SubscribeAll(func(e events.Event) {
		h.Publish(e.DashboardUID(), Message{
			Type:         string(e.EventKind()),
			DashboardUID: e.DashboardUID(),
			Data:         e,
			Timestamp:    time.Now(),
		})
	})
}

// Run starts the WebSocket hub
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(0)
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(count)
			h.logger.WithField("client_count", count).Debug("WebSocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetWebSocketClients(count)
			h.logger.WithField("client_count", count).Debug("WebSocket client disconnected")
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.dashboardUID != "" && c.dashboardUID == msg.uid {
					c.enqueue(msg.payload)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues msg for the clients watching dashboard uid. Messages are
// dropped when the hub is saturated.
func (h *Hub) Publish(uid string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}
	select {
	case h.broadcast <- broadcast{uid: uid, payload: payload}:
	default:
		h.logger.WithField("dashboard_uid", uid).Warn("WebSocket broadcast queue full, dropping message")
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeDashboard upgrades the request and streams the events of uid.
func (h *Hub) ServeDashboard(w http.ResponseWriter, r *http.Request, uid string) {
	c, ok := h.accept(w, r)
	if !ok {
		return
	}
	c.dashboardUID = uid
	h.start(c)
}

// ServeSession upgrades the request and streams the state of s: the current
// state first, then every change until the session closes.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, s *session.Session) {
	c, ok := h.accept(w, r)
	if !ok {
		return
	}

	push := func(st session.State) {
		payload, err := json.Marshal(Message{
			Type:         "session-state",
			DashboardUID: st.DashboardUID,
			SessionID:    st.ID,
			Data:         st,
			Timestamp:    time.Now(),
		})
		if err != nil {
			h.logger.WithError(err).Error("Failed to marshal session state")
			return
		}
		c.enqueue(payload)
		if st.Closed {
			// Ends writePump, which closes the connection.
			c.close()
		}
	}
	push(s.State())
	detach := s.Subscribe(push)
	c.mu.Lock()
	c.detach = detach
	c.mu.Unlock()
	h.start(c)
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*client, bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return nil, false
	}
	return &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}, true
}

func (h *Hub) start(c *client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
		c.conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *client) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.logger.Warn("WebSocket client too slow, dropping message")
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.detach != nil {
		go c.detach()
	}
}

func (c *client) writePump() {
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
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for the peer going away; clients send nothing.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("WebSocket error")
			}
			return
		}
	}
}
