// Package hub tracks live WebSocket connections keyed by user ID and fans
// frames out to conversation participants. One connection per user: a new
// connection supersedes and closes the previous one.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/models"
)

const (
	writeWait           = 10 * time.Second
	sendBufferSize      = 256
	defaultPingInterval = 30 * time.Second
)

// ConversationResolver is the store surface the hub needs to resolve
// broadcast recipients.
type ConversationResolver interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
}

// Hub is the central connection registry.
type Hub struct {
	store        ConversationResolver
	pingInterval time.Duration
	logger       *logrus.Logger

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewHub creates a hub. pingInterval controls the heartbeat; a connection
// with no pong for twice that interval is closed.
func NewHub(store ConversationResolver, pingInterval time.Duration, logger *logrus.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		store:        store,
		pingInterval: pingInterval,
		logger:       logger,
		connections:  make(map[string]*Connection),
	}
}

// Connection is one live WebSocket. All writes go through the send channel
// so the socket has a single writer.
type Connection struct {
	UserID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	hub       *Hub
	closeOnce sync.Once

	pongMu   sync.Mutex
	lastPong time.Time
}

// Register adds a connection for a user, superseding and closing any
// previous one. The returned connection owns the socket's write side.
func (h *Hub) Register(userID string, ws *websocket.Conn) *Connection {
	conn := &Connection{
		UserID:   userID,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		hub:      h,
		lastPong: time.Now(),
	}

	h.mu.Lock()
	previous := h.connections[userID]
	h.connections[userID] = conn
	h.mu.Unlock()

	if previous != nil {
		h.logger.WithField("user_id", userID).Info("Superseding existing connection")
		previous.Close()
	}

	go conn.writePump()
	go conn.heartbeat(h.pingInterval)

	h.logger.WithField("user_id", userID).Info("Connection registered")
	return conn
}

// Unregister removes a connection from the table if it is still the
// current one for its user, and closes it.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if h.connections[conn.UserID] == conn {
		delete(h.connections, conn.UserID)
	}
	h.mu.Unlock()

	conn.Close()
	h.logger.WithField("user_id", conn.UserID).Info("Connection unregistered")
}

// Send delivers a frame to one user, best effort. Disconnected users and
// full send buffers are logged and skipped.
func (h *Hub) Send(userID string, frame interface{}) {
	h.mu.RLock()
	conn := h.connections[userID]
	h.mu.RUnlock()

	if conn == nil {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal frame")
		return
	}

	select {
	case conn.send <- data:
	case <-conn.done:
	default:
		h.logger.WithField("user_id", userID).Warn("Send buffer full, dropping frame")
	}
}

// Broadcast delivers a frame to every connected participant of a
// conversation except excludeUserID.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, frame interface{}, excludeUserID string) {
	conversation, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		h.logger.WithError(err).WithField("conversation_id", conversationID).Warn("Broadcast target not found")
		return
	}

	for _, participant := range conversation.Participants {
		if participant == excludeUserID {
			continue
		}
		h.Send(participant, frame)
	}
}

// IsConnected reports whether a user currently has a live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[userID] != nil
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close shuts down every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range connections {
		conn.Close()
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Done is closed when the connection has been torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// TouchPong records heartbeat liveness; the read loop calls this whenever
// the client answers a ping.
func (c *Connection) TouchPong() {
	c.pongMu.Lock()
	c.lastPong = time.Now()
	c.pongMu.Unlock()
}

func (c *Connection) sincePong() time.Duration {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	return time.Since(c.lastPong)
}

func (c *Connection) writePump() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.WithError(err).WithField("user_id", c.UserID).Debug("Write failed, closing connection")
				c.hub.Unregister(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// heartbeat sends application-level ping frames and enforces the pong
// deadline. Exactly one heartbeat runs per connection.
func (c *Connection) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.sincePong() > 2*interval {
				c.hub.logger.WithField("user_id", c.UserID).Info("Heartbeat timeout, closing connection")
				c.hub.Unregister(c)
				return
			}
			ping, _ := json.Marshal(map[string]interface{}{
				"type":      "ping",
				"timestamp": models.Now(),
			})
			select {
			case c.send <- ping:
			case <-c.done:
				return
			default:
			}
		case <-c.done:
			return
		}
	}
}
