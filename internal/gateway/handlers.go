package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/presence"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

var (
	errInvalidFrame = fmt.Errorf("invalid frame: %w", apperr.ErrValidation)
	errUnknownEvent = fmt.Errorf("unknown event: %w", apperr.ErrValidation)
)

type roomPayload struct {
	ConversationID string `json:"conversationId"`
}

type sendPayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
}

type markReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// handle processes one inbound event. Events of a connection are handled
// one at a time in arrival order.
func (c *connection) handle(parent context.Context, env presence.Envelope) {
	ctx, cancel := context.WithTimeout(parent, c.g.opts.EventTimeout)
	defer cancel()

	switch env.Type {
	case presence.EventJoinConversation:
		c.onJoin(ctx, env)
	case presence.EventLeaveConversation:
		var p roomPayload
		if decode(env, &p) && p.ConversationID != "" {
			c.g.hub.Leave(c.client, p.ConversationID)
		}
	case presence.EventSendMessage:
		c.onSend(ctx, env)
	case presence.EventMarkRead:
		c.onMarkRead(ctx, env)
	case presence.EventTypingStart, presence.EventTypingEnd:
		c.onTyping(ctx, env)
	default:
		c.sendError(env.Type, errUnknownEvent)
	}
}

func decode(env presence.Envelope, v any) bool {
	if len(env.Payload) == 0 {
		return false
	}
	return json.Unmarshal(env.Payload, v) == nil
}

// onJoin ignores unknown conversations and non-participants.
func (c *connection) onJoin(ctx context.Context, env presence.Envelope) {
	var p roomPayload
	if !decode(env, &p) || p.ConversationID == "" {
		return
	}
	if err := c.g.chat.Authorize(ctx, p.ConversationID, c.client.UserID); err != nil {
		c.log.Debug("join ignored", zap.String("conversation_id", p.ConversationID), zap.Error(err))
		return
	}
	c.g.hub.Join(c.client, p.ConversationID)
}

// onSend broadcasts only after the message is stored. Validation and storage
// failures go back to this connection alone.
func (c *connection) onSend(ctx context.Context, env presence.Envelope) {
	var p sendPayload
	if !decode(env, &p) {
		c.sendError(env.Type, errInvalidFrame)
		return
	}
	res, err := c.g.chat.Send(ctx, service.SendInput{
		SenderID:       c.client.UserID,
		ConversationID: p.ConversationID,
		RecipientID:    p.RecipientID,
		Content:        p.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrNotFound):
			// same as join: unknown or foreign conversations are ignored
			c.log.Debug("send_message ignored", zap.String("conversation_id", p.ConversationID), zap.Error(err))
			return
		case !errors.Is(err, apperr.ErrValidation):
			c.log.Error("send_message failed", zap.String("conversation_id", p.ConversationID), zap.Error(err))
		}
		c.sendError(env.Type, err)
		return
	}
	// the sender's connection follows the conversation it just wrote to
	c.g.hub.Join(c.client, res.Conversation.ID)
	c.g.PublishSent(ctx, res)
}

func (c *connection) onMarkRead(ctx context.Context, env presence.Envelope) {
	var p markReadPayload
	if !decode(env, &p) || p.ConversationID == "" || len(p.MessageIDs) == 0 {
		return
	}
	receipts, err := c.g.chat.MarkRead(ctx, c.client.UserID, p.ConversationID, p.MessageIDs)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrNotFound) {
			return
		}
		c.log.Error("mark_read failed", zap.String("conversation_id", p.ConversationID), zap.Error(err))
		c.sendError(env.Type, err)
		return
	}
	c.g.PublishRead(ctx, receipts)
}

// onTyping is ignored unless the connection joined the room.
func (c *connection) onTyping(ctx context.Context, env presence.Envelope) {
	var p roomPayload
	if !decode(env, &p) || p.ConversationID == "" {
		return
	}
	if !c.g.hub.IsMember(c.client, p.ConversationID) {
		return
	}
	if _, err := c.g.hub.BroadcastTyping(ctx, p.ConversationID, c.client.UserID, env.Type == presence.EventTypingStart); err != nil {
		c.log.Warn("typing broadcast failed", zap.Error(err))
	}
}
