package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/metrics"
)

// Client is one live connection. Outbound frames are queued on Send and
// written by the connection's writer goroutine.
type Client struct {
	ID        string
	UserID    string
	Connected time.Time
	send      chan []byte
}

func NewClient(userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		Connected: time.Now().UTC(),
		send:      make(chan []byte, buffer),
	}
}

// Send is closed by Hub.Unregister.
func (c *Client) Send() <-chan []byte { return c.send }

// Hub tracks connections, their conversation rooms and each user's
// personal room. All membership changes go through one lock; sends never
// block on a slow client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{} // client -> joined conversations
	byUser  map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	metrics *metrics.Metrics
	log     *zap.Logger

	// Fanout, when set, also receives every room broadcast so another
	// process could relay it. Only local delivery is built in.
	Fanout func(ctx context.Context, room string, payload []byte)
}

func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]map[string]struct{}),
		byUser:  make(map[string]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: m,
		log:     log,
	}
}

// Register adds the client and its personal room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = make(map[string]struct{})
	if _, ok := h.byUser[c.UserID]; !ok {
		h.byUser[c.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.UserID][c] = struct{}{}
	h.metrics.ConnOpened()
}

// Unregister drops every membership of c and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.clients[c]
	if !ok {
		return
	}
	for room := range joined {
		h.removeFromRoom(c, room)
	}
	delete(h.clients, c)
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	close(c.send)
	h.metrics.ConnClosed()
}

// Join adds c to a conversation room. It reports false when c is not
// registered, so a connection that already went away never rejoins.
func (h *Hub) Join(c *Client, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.clients[c]
	if !ok {
		return false
	}
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
	joined[conversationID] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if joined, ok := h.clients[c]; ok {
		delete(joined, conversationID)
	}
	h.removeFromRoom(c, conversationID)
}

// caller holds h.mu
func (h *Hub) removeFromRoom(c *Client, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) IsMember(c *Client, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][c]
	return ok
}

func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Online reports whether the user has a live connection on this process.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// caller holds h.mu for reading
func (h *Hub) deliver(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		h.metrics.Dropped()
		h.log.Warn("dropping frame for slow client", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
		return false
	}
}

// BroadcastRoom delivers payload to every member of the room whose user is
// not excludeUser and returns the number of connections reached.
func (h *Hub) BroadcastRoom(ctx context.Context, conversationID string, payload []byte, excludeUser string) int {
	h.mu.RLock()
	n := 0
	for c := range h.rooms[conversationID] {
		if excludeUser != "" && c.UserID == excludeUser {
			continue
		}
		if h.deliver(c, payload) {
			n++
		}
	}
	h.mu.RUnlock()
	if h.Fanout != nil {
		h.Fanout(ctx, conversationID, payload)
	}
	return n
}

// BroadcastTyping sends user_typing to the room, never to the typist.
func (h *Hub) BroadcastTyping(ctx context.Context, conversationID, fromUserID string, isTyping bool) (int, error) {
	payload, err := Encode(EventUserTyping, TypingPayload{UserID: fromUserID, ConversationID: conversationID, IsTyping: isTyping})
	if err != nil {
		return 0, err
	}
	return h.BroadcastRoom(ctx, conversationID, payload, fromUserID), nil
}

// SendToUser delivers to the user's personal room.
func (h *Hub) SendToUser(ctx context.Context, userID string, payload []byte) int {
	h.mu.RLock()
	n := 0
	for c := range h.byUser[userID] {
		if h.deliver(c, payload) {
			n++
		}
	}
	h.mu.RUnlock()
	if h.Fanout != nil {
		h.Fanout(ctx, "user:"+userID, payload)
	}
	return n
}

// SendTo delivers to a single connection if it is still registered.
func (h *Hub) SendTo(c *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.deliver(c, payload)
}
