package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(name string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   uuid.New(),
		UserName: name,
		send:     make(chan WSMessage, 16),
	}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubJoinLeave(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")

	hub.Join(a, room)
	hub.Join(b, room)
	assert.Equal(t, 2, hub.RoomCount(room))

	hub.Leave(a, room)
	assert.Equal(t, 1, hub.RoomCount(room))

	hub.Leave(b, room)
	assert.Equal(t, 0, hub.RoomCount(room))
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	other := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	c := newTestClient("Carol")

	hub.Join(a, room)
	hub.Join(b, room)
	hub.Join(c, other)

	hub.Broadcast(room, EventNewMessage, map[string]string{"content": "hi"})

	require.Len(t, drain(a), 1)
	require.Len(t, drain(b), 1)
	assert.Empty(t, drain(c), "other rooms see nothing")
}

func TestHubMultiRoomClient(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room1 := uuid.New()
	room2 := uuid.New()
	a := newTestClient("Alice")

	hub.Join(a, room1)
	hub.Join(a, room2)

	hub.Broadcast(room1, EventNewMessage, "one")
	hub.Broadcast(room2, EventNewMessage, "two")
	assert.Len(t, drain(a), 2)

	hub.RemoveClient(a)
	assert.Equal(t, 0, hub.RoomCount(room1))
	assert.Equal(t, 0, hub.RoomCount(room2))
}

func TestTypingSkipsOriginator(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	hub.Join(a, room)
	hub.Join(b, room)

	hub.SetTyping(a, room, true)

	assert.Empty(t, drain(a), "typing is never echoed to its originator")
	msgs := drain(b)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventUserTyping, msgs[0].Event)

	var ev TypingEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	assert.Equal(t, a.UserID, ev.UserID)
	assert.True(t, ev.IsTyping)
}

func TestLeaveClearsTyping(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	hub.Join(a, room)
	hub.Join(b, room)

	hub.SetTyping(a, room, true)
	drain(b)

	hub.Leave(a, room)

	msgs := drain(b)
	require.Len(t, msgs, 1, "leave broadcasts a final typing=false")
	var ev TypingEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
	assert.Equal(t, a.UserID, ev.UserID)
	assert.False(t, ev.IsTyping)
}

func TestDisconnectClearsTypingEverywhere(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room1 := uuid.New()
	room2 := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	c := newTestClient("Carol")
	hub.Join(a, room1)
	hub.Join(a, room2)
	hub.Join(b, room1)
	hub.Join(c, room2)

	hub.SetTyping(a, room1, true)
	hub.SetTyping(a, room2, true)
	drain(b)
	drain(c)

	hub.RemoveClient(a)

	for _, peer := range []*Client{b, c} {
		msgs := drain(peer)
		require.Len(t, msgs, 1)
		var ev TypingEvent
		require.NoError(t, json.Unmarshal(msgs[0].Data, &ev))
		assert.False(t, ev.IsTyping)
	}
}

func TestLeaveWithoutTypingIsSilent(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	hub.Join(a, room)
	hub.Join(b, room)

	hub.Leave(a, room)
	assert.Empty(t, drain(b))
}

func TestBroadcastSkipsFullBuffers(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)
	room := uuid.New()
	slow := newTestClient("Slow")
	slow.send = make(chan WSMessage, 1)
	fast := newTestClient("Fast")
	hub.Join(slow, room)
	hub.Join(fast, room)

	hub.Broadcast(room, EventNewMessage, "first")
	hub.Broadcast(room, EventNewMessage, "second")

	assert.Len(t, drain(slow), 1, "overflow is dropped, not blocking")
	assert.Len(t, drain(fast), 2)
}

// loopbackBus simulates the Redis bridge in-process: published events are
// handed straight back to every room subscription.
type loopbackBus struct {
	handlers map[uuid.UUID]func(event string, payload []byte, origin string)
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{handlers: make(map[uuid.UUID]func(string, []byte, string))}
}

func (b *loopbackBus) PublishRoomEvent(roomID uuid.UUID, event string, payload []byte, origin string) error {
	h, ok := b.handlers[roomID]
	if !ok {
		return errors.New("no subscriber")
	}
	h(event, payload, origin)
	return nil
}

func (b *loopbackBus) SubscribeRoom(roomID uuid.UUID, handler func(event string, payload []byte, origin string)) (func(), error) {
	b.handlers[roomID] = handler
	return func() { delete(b.handlers, roomID) }, nil
}

func TestBroadcastViaBusDeliversOnce(t *testing.T) {
	bus := newLoopbackBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	hub.Join(a, room)
	hub.Join(b, room)

	hub.Broadcast(room, EventVoteUpdate, map[string]int{"totalVotes": 1})

	assert.Len(t, drain(a), 1, "publish-only fan-out, no double delivery")
	assert.Len(t, drain(b), 1)
}

func TestTypingViaBusSkipsOrigin(t *testing.T) {
	bus := newLoopbackBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	room := uuid.New()
	a := newTestClient("Alice")
	b := newTestClient("Bob")
	hub.Join(a, room)
	hub.Join(b, room)

	hub.SetTyping(a, room, true)

	assert.Empty(t, drain(a), "origin id travels through the bus")
	assert.Len(t, drain(b), 1)
}

func TestRoomUnsubscribedWhenEmpty(t *testing.T) {
	bus := newLoopbackBus()
	hub := NewHub(zap.NewNop(), bus, bus)
	room := uuid.New()
	a := newTestClient("Alice")

	hub.Join(a, room)
	assert.Contains(t, bus.handlers, room)

	hub.Leave(a, room)
	assert.NotContains(t, bus.handlers, room)
}
