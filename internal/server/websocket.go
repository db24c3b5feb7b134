package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/cmdwarden/warden/internal/approval"
	"github.com/cmdwarden/warden/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
)

// WSMessage is what the hub pushes to connected approval consoles.
type WSMessage struct {
	Type       string      `json:"type"`
	ApprovalID string      `json:"approval_id,omitempty"`
	Status     string      `json:"status,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Client is one connected websocket consumer.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan WSMessage
	hub      *Hub
	user     *auth.User
	closedMu sync.Mutex
	closed   bool
}

// Hub fans pending-approval updates out to every connected client.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan WSMessage
	register     chan *Client
	unregister   chan *Client
	mu           sync.RWMutex
	broker       approval.Broker
	authManager  *auth.Manager
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func NewHub(broker approval.Broker, authManager *auth.Manager) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan WSMessage, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broker:      broker,
		authManager: authManager,
		ctx:         ctx,
		cancel:      cancel,
	}
	go h.run()
	go h.watchBroker()
	return h
}

// Shutdown stops the pumps and closes every client connection.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		log.Info().Msg("shutting down websocket hub")
		h.cancel()

		h.mu.Lock()
		for client := range h.clients {
			client.safeClose()
		}
		h.clients = make(map[*Client]bool)
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.safeClose()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop the connection.
					go func(c *Client) {
						select {
						case h.unregister <- c:
						case <-h.ctx.Done():
						}
					}(client)
				}
			}
			h.mu.RUnlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// watchBroker rebroadcasts the pending set whenever the broker signals
// a change, with a slow periodic refresh as a safety net.
func (h *Hub) watchBroker() {
	notifyCh := h.broker.NotifyChannel()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notifyCh:
			h.broadcastPending()
		case <-ticker.C:
			h.broadcastPending()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) broadcastPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending, err := h.broker.GetPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get pending approvals for broadcast")
		return
	}

	msg := WSMessage{
		Type: "pending_update",
		Data: map[string]interface{}{
			"total":   len(pending),
			"pending": pending,
		},
	}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

// BroadcastResolved tells every client that one approval has been
// decided so consoles can drop the card immediately.
func (h *Hub) BroadcastResolved(approvalID, status string) {
	msg := WSMessage{
		Type:       "approval_resolved",
		ApprovalID: approvalID,
		Status:     status,
	}

	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

func (c *Client) safeClose() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
			c.safeClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WSHandler upgrades connections and hands them to the hub.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(broker approval.Broker, authManager *auth.Manager) *WSHandler {
	hub := NewHub(broker, authManager)
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Token validation below is the real gate.
				return true
			},
		},
	}
}

// Hub exposes the hub for shutdown and decision broadcasts.
func (h *WSHandler) Hub() *Hub {
	return h.hub
}

// HandleWebSocket authenticates the caller and starts the client
// pumps. Browsers cannot set headers on websocket dials, so the token
// may arrive as a query parameter instead.
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	var user *auth.User

	token := c.QueryParam("token")
	if token == "" {
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}

	if h.hub.authManager.Required() {
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
		}
		validated, err := h.hub.authManager.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("websocket auth failed")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		user = validated
	} else if token != "" {
		if validated, err := h.hub.authManager.ValidateToken(token); err == nil {
			user = validated
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}

	name := "anonymous"
	if user != nil {
		name = user.Name
	}

	client := &Client{
		id:   name + "-" + uuid.NewString()[:8],
		conn: conn,
		send: make(chan WSMessage, 256),
		hub:  h.hub,
		user: user,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		_ = conn.Close()
		return nil
	}

	// Initial snapshot so a fresh console renders without waiting for
	// the next change.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if pending, err := h.hub.broker.GetPending(ctx); err == nil {
		client.send <- WSMessage{
			Type: "pending_update",
			Data: map[string]interface{}{
				"total":   len(pending),
				"pending": pending,
			},
		}
	}

	go client.writePump()
	go client.readPump()

	return nil
}
