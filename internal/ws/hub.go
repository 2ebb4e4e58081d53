package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 64               // messages in each client send channel
	changeBuffer   = 1024
)

// Authenticator resolves an access token to its claims.
type Authenticator interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	bidderID uuid.UUID // zero-value = anonymous
	lotID    uuid.UUID // zero-value = every lot
}

func (c *Client) wants(lotID uuid.UUID) bool {
	return c.lotID == uuid.Nil || c.lotID == lotID
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub keeps the set of connected clients and fans lot changes out to them.
// Run must be started before ServeWs is used.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	changes    chan domain.LotChange
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	auth     Authenticator // optional; nil treats every socket as anonymous
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(auth Authenticator, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		changes:    make(chan domain.LotChange, changeBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		auth:       auth,
		logger:     logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Run processes registrations and lot changes until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case ch := <-h.changes:
			h.fanOut(ch)
		}
	}
}

// fanOut encodes ch at most twice: once for the leader's sockets and once for
// everybody else.
func (h *Hub) fanOut(ch domain.LotChange) {
	var public, leading []byte

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(ch.LotID) {
			continue
		}
		isLeader := ch.WinnerID != nil && client.bidderID != uuid.Nil && *ch.WinnerID == client.bidderID
		var frame []byte
		if isLeader {
			if leading == nil {
				leading = h.encode(newLotUpdate(ch, true))
			}
			frame = leading
		} else {
			if public == nil {
				public = h.encode(newLotUpdate(ch, false))
			}
			frame = public
		}
		if frame == nil {
			return
		}
		select {
		case client.send <- frame:
		default:
			// Slow reader; it catches up on the next change.
		}
	}
}

func (h *Hub) encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal frame", "err", err)
		return nil
	}
	return data
}

// OnLotChange implements notify.Sink.
func (h *Hub) OnLotChange(ch domain.LotChange) {
	select {
	case h.changes <- ch:
	default:
		h.logger.Warn("change buffer full, frame dropped", "lot_id", ch.LotID, "version", ch.Version)
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs: HTTP to WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades the request and starts the client pumps. ?lot_id= limits
// the socket to one lot; ?token= identifies the bidder so their own socket is
// told when they lead. A bad token degrades to an anonymous socket.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lotID uuid.UUID
	if raw := q.Get("lot_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid lot_id", http.StatusBadRequest)
			return
		}
		lotID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		bidderID: h.identify(q.Get("token")),
		lotID:    lotID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) identify(token string) uuid.UUID {
	if token == "" || h.auth == nil {
		return uuid.Nil
	}
	claims, err := h.auth.ParseAccessToken(token)
	if err != nil {
		return uuid.Nil
	}
	id, err := claims.BidderID()
	if err != nil {
		return uuid.Nil
	}
	return id
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services pongs; the protocol is server-push.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("unexpected close", "bidder_id", c.bidderID, "err", err)
			}
			return
		}
	}
}
