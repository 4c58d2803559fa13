package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/conversation-service/internal/domain"
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_publisher.go -package=mocks

// EventPublisher forwards domain events to downstream consumers. Delivery is
// best effort and never blocks a send.
type EventPublisher interface {
	MessageCreated(ctx context.Context, m *domain.Message) error
	MessagesRead(ctx context.Context, r domain.ReadReceipt) error
}

type noopPublisher struct{}

func (noopPublisher) MessageCreated(context.Context, *domain.Message) error  { return nil }
func (noopPublisher) MessagesRead(context.Context, domain.ReadReceipt) error { return nil }

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
