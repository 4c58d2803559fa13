package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/conversation-service/internal/domain"
)

// ConversationRepository persists conversations. Insert returns
// apperr.ErrDuplicate when the pair already has a conversation.
type ConversationRepository interface {
	Insert(ctx context.Context, c *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error)
	// UpdateLastMessage replaces the snapshot unless the stored one is newer.
	UpdateLastMessage(ctx context.Context, id string, snap domain.LastMessage) error
}

type MessageRepository interface {
	Insert(ctx context.Context, m *domain.Message) error
	// List returns messages oldest first, ordered by (created_at, id).
	List(ctx context.Context, conversationID string, skip, limit int64) ([]*domain.Message, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Message, error)
	// MarkRead flips unread messages not sent by readerID.
	MarkRead(ctx context.Context, ids []string, readerID string, at time.Time) error
}

// UnreadRepository keeps one counter per (conversation, user).
type UnreadRepository interface {
	Increment(ctx context.Context, conversationID, userID string) error
	Reset(ctx context.Context, conversationID, userID string) error
	Counts(ctx context.Context, conversationIDs []string) (map[string]map[string]int, error)
}
