// Package websocket provides the realtime chat namespace
// Following Clean Architecture: This is an Adapter layer component
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roykane/flower-shop-sub000/internal/adapters/dto"
	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
	"github.com/roykane/flower-shop-sub000/internal/core/services"
)

const (
	clientBufferSize = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024

	maxSessionIDLength = 128
)

// Hub upgrades realtime connections and pumps frames between the socket and
// the event router
type Hub struct {
	router   *services.Router
	auth     ports.Authenticator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub. An empty or "*" origin list accepts any origin.
func NewHub(router *services.Router, auth ports.Authenticator, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		router: router,
		auth:   auth,
		logger: logger.With("component", "ws_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			allowed = nil
			break
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWS handles WebSocket upgrade requests
// Route: /ws/chat?sessionId=...&token=...
// Staff authenticate with a staff/admin token. Anyone else is a customer and
// must supply the session id carried across reconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	participant, err := h.resolveParticipant(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logger.Warn("Rejected realtime connection", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := newClient(conn, h.logger)
	ctx, cancel := context.WithCancel(context.Background())

	go client.writePump()

	if err := h.router.Connect(ctx, participant, client); err != nil {
		h.logger.Error("Connect failed", "error", err, "kind", participant.Kind, "id", participant.ID)
	}

	go func() {
		defer cancel()
		h.readPump(ctx, client, participant)
	}()
}

// resolveParticipant authenticates the optional bearer credential.
// Authentication failure downgrades to an anonymous customer.
func (h *Hub) resolveParticipant(r *http.Request) (domain.Participant, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}

	var identity *domain.Identity
	if token != "" && h.auth != nil {
		id, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.logger.Debug("Bearer credential rejected, continuing as anonymous", "error", err)
		} else {
			identity = id
		}
	}

	if identity.IsStaff() {
		return domain.Participant{
			Kind: domain.ParticipantStaff,
			ID:   identity.UserID,
			Name: identity.Name,
			Role: identity.Role,
		}, nil
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		return domain.Participant{}, domain.ErrMissingSession
	}
	if len(sessionID) > maxSessionIDLength {
		return domain.Participant{}, errors.New("session id too long")
	}

	p := domain.Participant{
		Kind: domain.ParticipantCustomer,
		ID:   sessionID,
		Role: domain.RoleCustomer,
	}
	if identity != nil {
		userID := identity.UserID
		p.UserID = &userID
		p.Name = identity.Name
	}
	return p, nil
}

// readPump decodes inbound frames and runs them through the router one at a
// time, so events of one connection are handled in arrival order
func (h *Hub) readPump(ctx context.Context, c *Client, p domain.Participant) {
	defer func() {
		h.router.Disconnect(p, c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Read error", "error", err, "kind", p.Kind, "id", p.ID)
			}
			return
		}

		cmd, err := dto.DecodeCommand(p.Kind, data)
		if err != nil {
			h.logger.Warn("Invalid frame", "error", err, "kind", p.Kind, "id", p.ID)
			payload := domain.ErrorPayload{Message: "invalid event"}
			if p.Kind == domain.ParticipantCustomer {
				payload.Message = "Tin nhắn không hợp lệ."
			}
			c.Send(domain.NewEvent(domain.EventError, payload))
			continue
		}

		h.router.Handle(ctx, p, c, cmd)
	}
}

// Client is one live socket. It implements ports.Connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ ports.Connection = (*Client)(nil)

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientBufferSize),
		logger: logger,
	}
}

// ID returns the unique connection id
func (c *Client) ID() string { return c.id }

// Send queues an event. Non-blocking: when the buffer is full the event is
// dropped for this client so slow clients never stall the router.
func (c *Client) Send(event domain.OutboundEvent) bool {
	data, err := dto.EncodeEvent(event)
	if err != nil {
		c.logger.Error("Failed to encode event", "error", err, "type", event.Type)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump sends queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
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
				// Send channel closed
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
