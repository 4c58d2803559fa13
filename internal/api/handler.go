package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/auth"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

type Handlers struct {
	chat      ChatService
	broadcast Broadcaster
	presence  PresenceLookup
	local     interface{ Online(userID string) bool }
	validate  *validator.Validate
	timeout   time.Duration
	log       *zap.Logger
}

type openRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type sendRequest struct {
	Content string `json:"content"`
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,dive,required"`
}

func (h *Handlers) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *Handlers) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("invalid body: %w", apperr.ErrValidation)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", err.Error(), apperr.ErrValidation)
	}
	return nil
}

func (h *Handlers) listConversations(c *fiber.Ctx) error {
	ctx, cancel := h.ctx(c)
	defer cancel()
	list, err := h.chat.ListConversations(ctx, auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "data": list})
}

func (h *Handlers) openConversation(c *fiber.Ctx) error {
	var req openRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	conv, err := h.chat.Open(ctx, auth.UserID(c), req.ParticipantID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	page, limit := service.Page(c.QueryInt("page", 1), c.QueryInt("limit", service.DefaultPageSize))
	ctx, cancel := h.ctx(c)
	defer cancel()
	msgs, err := h.chat.History(ctx, auth.UserID(c), c.Params("id"), page, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs, "page": page, "limit": limit})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req sendRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.chat.Send(ctx, service.SendInput{
		SenderID:       auth.UserID(c),
		ConversationID: c.Params("id"),
		Content:        req.Content,
	})
	if err != nil {
		return err
	}
	if h.broadcast != nil {
		h.broadcast.PublishSent(ctx, res)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "ok", "data": res.Message})
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	var req markReadRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	receipts, err := h.chat.MarkRead(ctx, auth.UserID(c), "", req.MessageIDs)
	if err != nil {
		return err
	}
	if h.broadcast != nil {
		h.broadcast.PublishRead(ctx, receipts)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": receipts})
}

func (h *Handlers) presenceStatus(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if h.presence != nil {
		ctx, cancel := h.ctx(c)
		defer cancel()
		st, err := h.presence.Get(ctx, userID)
		if err == nil {
			return c.JSON(fiber.Map{"status": "ok", "data": st})
		}
		h.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	online := h.local != nil && h.local.Online(userID)
	return c.JSON(fiber.Map{"status": "ok", "data": fiber.Map{"userId": userID, "online": online}})
}
