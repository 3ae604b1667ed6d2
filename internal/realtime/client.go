package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gatherspace/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Wire event names, server to client.
const (
	EventNewMessage = "new-message"
	EventUserTyping = "user-typing"
	EventVoteUpdate = "vote-update"
	EventError      = "error"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TypingEvent is the user-typing payload.
type TypingEvent struct {
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName"`
	IsTyping bool      `json:"isTyping"`
}

// MessageStore persists chat messages sent over the socket.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
}

// UserDirectory resolves user ids to display names at handshake.
type UserDirectory interface {
	Resolve(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID       string
	UserID   uuid.UUID
	UserName string
	hub      *Hub
	store    MessageStore
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

type roomPayload struct {
	EventID uuid.UUID `json:"eventId"`
}

type sendMessagePayload struct {
	EventID     uuid.UUID `json:"eventId"`
	Message     string    `json:"message"`
	MessageType string    `json:"messageType"`
}

type typingPayload struct {
	EventID  uuid.UUID `json:"eventId"`
	IsTyping bool      `json:"isTyping"`
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The
// token travels in the query string since browsers cannot set headers on
// WebSocket handshakes.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID string, err error), directory UserDirectory, store MessageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userIDStr, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			return
		}

		userName := ""
		if directory != nil {
			if u, err := directory.Resolve(c.Request.Context(), userID); err == nil {
				userName = u.DisplayName
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			UserID:   userID,
			UserName: userName,
			hub:      hub,
			store:    store,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleEvent(msg)
	}
}

// handleEvent dispatches a single client event. Errors are logged and
// reported back on the socket; they never drop the connection.
func (c *Client) handleEvent(msg WSMessage) {
	switch msg.Event {
	case "join-event":
		var p roomPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.EventID == uuid.Nil {
			c.sendError("join-event: invalid payload")
			return
		}
		c.hub.Join(c, p.EventID)
	case "leave-event":
		var p roomPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.EventID == uuid.Nil {
			c.sendError("leave-event: invalid payload")
			return
		}
		c.hub.Leave(c, p.EventID)
	case "send-message":
		var p sendMessagePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.EventID == uuid.Nil {
			c.sendError("send-message: invalid payload")
			return
		}
		c.sendMessage(p)
	case "typing":
		var p typingPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.EventID == uuid.Nil {
			c.sendError("typing: invalid payload")
			return
		}
		c.hub.SetTyping(c, p.EventID, p.IsTyping)
	default:
		// ignore
	}
}

// sendMessage persists the message, then broadcasts it to the room. The
// broadcast only happens after the write succeeds so subscribers never
// see a message that failed to persist.
func (c *Client) sendMessage(p sendMessagePayload) {
	eventID := p.EventID
	m, err := models.NewMessage(c.UserID, c.UserName, p.Message, models.MessageType(p.MessageType), &eventID)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Create(ctx, m); err != nil {
		c.logger.Error("socket message persist failed", zap.String("client_id", c.ID), zap.Error(err))
		c.sendError("failed to send message")
		return
	}

	c.hub.Broadcast(eventID, EventNewMessage, m)
}

func (c *Client) sendError(msg string) {
	data, _ := json.Marshal(gin.H{"error": msg})
	select {
	case c.send <- WSMessage{Event: EventError, Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
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
