package api

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/auth"
	"github.com/fathima-sithara/conversation-service/internal/cache"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/metrics"
	"github.com/fathima-sithara/conversation-service/internal/service"
)

type ChatService interface {
	Send(ctx context.Context, in service.SendInput) (*service.SendResult, error)
	MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) ([]domain.ReadReceipt, error)
	History(ctx context.Context, userID, conversationID string, page, limit int) ([]*domain.Message, error)
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	Open(ctx context.Context, userID, participantID string) (*domain.Conversation, error)
}

// Broadcaster pushes REST-originated changes to live connections.
type Broadcaster interface {
	PublishSent(ctx context.Context, res *service.SendResult)
	PublishRead(ctx context.Context, receipts []domain.ReadReceipt)
}

type PresenceLookup interface {
	Get(ctx context.Context, userID string) (cache.Status, error)
}

// WSMounter mounts the websocket endpoint.
type WSMounter interface {
	Register(router fiber.Router, v auth.Validator)
}

type HealthCheck func(ctx context.Context) error

type Deps struct {
	Chat      ChatService
	Broadcast Broadcaster
	Validator auth.Validator
	// Presence is optional; without it presence falls back to Local.
	Presence PresenceLookup
	Local    interface{ Online(userID string) bool }
	Limiter  *RateLimiter
	WS       WSMounter
	Metrics  *metrics.Metrics
	Health   map[string]HealthCheck
	Log      *zap.Logger
	// RequestTimeout bounds each handler.
	RequestTimeout time.Duration
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		status := apperr.Status(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(status).JSON(fiber.Map{"error": apperr.Public(err)})
	}
}

func NewServer(d Deps) *fiber.App {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(d.Log),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	h := &Handlers{
		chat:      d.Chat,
		broadcast: d.Broadcast,
		presence:  d.Presence,
		local:     d.Local,
		validate:  validator.New(),
		timeout:   d.RequestTimeout,
		log:       d.Log,
	}

	app.Get("/health", healthHandler(d.Health))
	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}
	if d.WS != nil {
		d.WS.Register(app, d.Validator)
	}

	v1 := app.Group("/api/v1", auth.Middleware(d.Validator, false))
	if d.Limiter != nil {
		v1.Use(d.Limiter.MiddlewareByKey(auth.UserID))
	}

	v1.Get("/conversations", h.listConversations)
	v1.Post("/conversations", h.openConversation)
	v1.Get("/conversations/:id/messages", h.listMessages)
	v1.Post("/conversations/:id/messages", h.sendMessage)
	v1.Patch("/messages/read", h.markRead)
	v1.Get("/presence/:userId", h.presenceStatus)

	return app
}

func healthHandler(checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		out := fiber.Map{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				out[name] = err.Error()
				healthy = false
				continue
			}
			out[name] = "ok"
		}
		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": out})
		}
		return c.JSON(fiber.Map{"status": "ok", "checks": out})
	}
}
