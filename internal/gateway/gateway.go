package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/auth"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/metrics"
	"github.com/fathima-sithara/conversation-service/internal/presence"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

// ChatService is what the gateway needs from the service layer.
type ChatService interface {
	Send(ctx context.Context, in service.SendInput) (*service.SendResult, error)
	MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) ([]domain.ReadReceipt, error)
	Authorize(ctx context.Context, conversationID, userID string) error
}

// PresenceRecorder mirrors connection lifecycle into a shared store.
type PresenceRecorder interface {
	AddConnection(ctx context.Context, userID, connID string) error
	RemoveConnection(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID string) error
}

type Options struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RatePerSecond  float64
	RateBurst      int
	// EventTimeout bounds the handling of one inbound event.
	EventTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 65536
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 20
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
	return o
}

// Gateway authenticates websocket connections, routes their events to the
// chat service and fans results out through the presence hub.
type Gateway struct {
	chat     ChatService
	hub      *presence.Hub
	presence PresenceRecorder
	opts     Options
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func New(chat ChatService, hub *presence.Hub, rec PresenceRecorder, opts Options, m *metrics.Metrics, log *zap.Logger) *Gateway {
	return &Gateway{chat: chat, hub: hub, presence: rec, opts: opts.withDefaults(), metrics: m, log: log}
}

// Register mounts GET /ws. Authentication runs before the upgrade so an
// unauthenticated client never gets a socket.
func (g *Gateway) Register(router fiber.Router, v auth.Validator) {
	router.Get("/ws", auth.Middleware(v, true), func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals(auth.LocalsKey).(string)
		g.Serve(context.Background(), c, userID)
	}))
}

// PublishSent broadcasts a persisted message to the conversation room and
// notifies each recipient's personal room.
func (g *Gateway) PublishSent(ctx context.Context, res *service.SendResult) {
	frame, err := presence.Encode(presence.EventNewMessage, res.Message)
	if err != nil {
		g.log.Error("encode new_message", zap.Error(err))
		return
	}
	g.hub.BroadcastRoom(ctx, res.Conversation.ID, frame, "")

	update, err := presence.Encode(presence.EventConversationUpdated, res.Conversation)
	if err != nil {
		g.log.Error("encode conversation_updated", zap.Error(err))
		return
	}
	for _, r := range res.Recipients {
		g.hub.SendToUser(ctx, r, update)
	}
}

// PublishRead broadcasts read receipts to their conversation rooms.
func (g *Gateway) PublishRead(ctx context.Context, receipts []domain.ReadReceipt) {
	for _, r := range receipts {
		frame, err := presence.Encode(presence.EventMessagesRead, r)
		if err != nil {
			g.log.Error("encode messages_read", zap.Error(err))
			continue
		}
		g.hub.BroadcastRoom(ctx, r.ConversationID, frame, "")
	}
}

// DeliverNotification pushes an external notification to a user's
// personal room.
func (g *Gateway) DeliverNotification(ctx context.Context, userID string, payload json.RawMessage) int {
	frame, err := presence.Encode(presence.EventNotification, payload)
	if err != nil {
		g.log.Warn("encode notification", zap.Error(err))
		return 0
	}
	return g.hub.SendToUser(ctx, userID, frame)
}
