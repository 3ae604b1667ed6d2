package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes room events for cross-instance broadcast.
// Origin is the client id that produced the event; subscribers skip it
// on local delivery so typing indicators are never echoed back.
type RedisPublisher interface {
	PublishRoomEvent(roomID uuid.UUID, event string, payload []byte, origin string) error
}

// RedisSubscriber subscribes to room channels and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribeRoom(roomID uuid.UUID, handler func(event string, payload []byte, origin string)) (cancel func(), err error)
}

// Hub maintains room membership and fans out events. Rooms are keyed by
// event id; a client may be joined to several rooms at once. The hub
// persists nothing; all delivery is per-room, in the order the server
// processed the originating writes. With Redis configured, events flow
// publish-only so every subscriber (this instance included) delivers
// them exactly once per connected session.
type Hub struct {
	// roomID -> clientID -> client
	rooms map[uuid.UUID]map[string]*Client
	// clientID -> rooms joined
	members map[string]map[uuid.UUID]bool
	// clientID -> rooms with an open typing indicator
	typing map[string]map[uuid.UUID]bool
	// cancel Redis subscription per room
	subs map[uuid.UUID]func()

	mu       sync.Mutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// NewHub creates a hub. redisPub/redisSub may be nil for single-instance
// deployments; fan-out then stays local.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		members:  make(map[string]map[uuid.UUID]bool),
		typing:   make(map[string]map[uuid.UUID]bool),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Join adds a client to a room. Starts the Redis subscription for the
// room when the first client joins.
func (h *Hub) Join(c *Client, roomID uuid.UUID) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(roomID, func(event string, payload []byte, origin string) {
				h.deliverLocal(roomID, event, payload, origin)
			})
			if err == nil {
				h.subs[roomID] = cancel
			} else {
				h.logger.Warn("room subscribe failed", zap.String("room_id", roomID.String()), zap.Error(err))
			}
		}
	}
	h.rooms[roomID][c.ID] = c
	if h.members[c.ID] == nil {
		h.members[c.ID] = make(map[uuid.UUID]bool)
	}
	h.members[c.ID][roomID] = true
	h.mu.Unlock()
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room_id", roomID.String()))
}

// Leave removes a client from a room, clearing any open typing
// indicator first. Cancels the Redis subscription when the room empties.
func (h *Hub) Leave(c *Client, roomID uuid.UUID) {
	h.clearTyping(c, roomID)

	h.mu.Lock()
	if m, ok := h.rooms[roomID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, roomID)
			if cancel, ok := h.subs[roomID]; ok {
				cancel()
				delete(h.subs, roomID)
			}
		}
	}
	if rooms, ok := h.members[c.ID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.members, c.ID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("room_id", roomID.String()))
}

// RemoveClient drops a client from every room it joined. Typing
// indicators are ephemeral: any room that saw this client typing gets a
// final isTyping=false.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	var rooms []uuid.UUID
	for roomID := range h.members[c.ID] {
		rooms = append(rooms, roomID)
	}
	h.mu.Unlock()

	for _, roomID := range rooms {
		h.Leave(c, roomID)
	}
}

// SetTyping records and broadcasts a typing indicator to everyone in the
// room except the originator.
func (h *Hub) SetTyping(c *Client, roomID uuid.UUID, isTyping bool) {
	h.mu.Lock()
	if isTyping {
		if h.typing[c.ID] == nil {
			h.typing[c.ID] = make(map[uuid.UUID]bool)
		}
		h.typing[c.ID][roomID] = true
	} else if rooms, ok := h.typing[c.ID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.typing, c.ID)
		}
	}
	h.mu.Unlock()

	h.BroadcastExcept(roomID, c.ID, EventUserTyping, TypingEvent{
		UserID:   c.UserID,
		UserName: c.UserName,
		IsTyping: isTyping,
	})
}

// clearTyping broadcasts isTyping=false if the client had an open typing
// indicator in the room.
func (h *Hub) clearTyping(c *Client, roomID uuid.UUID) {
	h.mu.Lock()
	wasTyping := h.typing[c.ID][roomID]
	if wasTyping {
		delete(h.typing[c.ID], roomID)
		if len(h.typing[c.ID]) == 0 {
			delete(h.typing, c.ID)
		}
	}
	h.mu.Unlock()
	if wasTyping {
		h.BroadcastExcept(roomID, c.ID, EventUserTyping, TypingEvent{
			UserID:   c.UserID,
			UserName: c.UserName,
			IsTyping: false,
		})
	}
}

// Broadcast sends an event to every subscriber of a room.
func (h *Hub) Broadcast(roomID uuid.UUID, event string, payload interface{}) {
	h.BroadcastExcept(roomID, "", event, payload)
}

// BroadcastExcept sends an event to every subscriber of a room except
// the origin client. Goes through Redis when configured so remote
// instances deliver too; falls back to local delivery otherwise.
func (h *Hub) BroadcastExcept(roomID uuid.UUID, originClientID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishRoomEvent(roomID, event, data, originClientID); err == nil {
			return
		}
		h.logger.Warn("room publish failed, delivering locally", zap.String("room_id", roomID.String()), zap.Error(err))
	}
	h.deliverLocal(roomID, event, data, originClientID)
}

// deliverLocal pushes the event onto every local subscriber's send
// buffer. Holding the lock for the whole fan-out keeps per-room
// ordering consistent across subscribers.
func (h *Hub) deliverLocal(roomID uuid.UUID, event string, data []byte, exceptClientID string) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.rooms[roomID] {
		if id == exceptClientID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// RoomCount returns the number of connected clients in a room.
func (h *Hub) RoomCount(roomID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
