package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/metrics"
)

// SendInput addresses a message either to an existing conversation or to a
// recipient, in which case the conversation is found or created.
type SendInput struct {
	SenderID       string
	ConversationID string
	RecipientID    string
	Content        string
}

type SendResult struct {
	Message      *domain.Message
	Conversation *domain.Conversation
	// Recipients are the participants other than the sender.
	Recipients []string
}

// ChatService runs the send and read flows across the registry, the message
// log and the unread counters.
type ChatService struct {
	conversations *ConversationRegistry
	messages      *MessageService
	unread        *UnreadTracker
	publisher     EventPublisher
	metrics       *metrics.Metrics
	log           *zap.Logger
}

func NewChatService(conv *ConversationRegistry, msgs *MessageService, unread *UnreadTracker, pub EventPublisher, m *metrics.Metrics, log *zap.Logger) *ChatService {
	if pub == nil {
		pub = noopPublisher{}
	}
	return &ChatService{conversations: conv, messages: msgs, unread: unread, publisher: pub, metrics: m, log: log}
}

func (s *ChatService) Conversations() *ConversationRegistry { return s.conversations }

// Send persists a message, then updates the snapshot and the recipients'
// counters. Only the append is required to succeed; later steps are logged
// on failure and the message is still delivered.
func (s *ChatService) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	if err := s.messages.ValidateContent(in.Content); err != nil {
		return nil, err
	}
	conv, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Append(ctx, conv.ID, in.SenderID, in.Content)
	if err != nil {
		s.metrics.StorageError("append")
		s.log.Error("append message failed", zap.String("conversation_id", conv.ID), zap.String("sender_id", in.SenderID), zap.Error(err))
		return nil, err
	}
	s.metrics.MessageSent()

	snap := msg.Snapshot()
	if err := s.conversations.UpdateLastMessage(ctx, conv.ID, snap); err != nil {
		s.metrics.StorageError("update_last_message")
		s.log.Warn("update last message failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else if snap.Supersedes(conv.LastMessage) {
		conv.LastMessage = &snap
		conv.UpdatedAt = snap.Timestamp
	}

	recipients := conv.Recipients(in.SenderID)
	for _, rcpt := range recipients {
		if err := s.unread.Increment(ctx, conv.ID, rcpt); err != nil {
			s.metrics.StorageError("increment_unread")
			s.log.Warn("increment unread failed", zap.String("conversation_id", conv.ID), zap.String("user_id", rcpt), zap.Error(err))
		}
	}
	if counts, err := s.unread.Counts(ctx, conv.ID); err == nil {
		conv.WithCounts(counts[conv.ID])
	}

	if err := s.publisher.MessageCreated(ctx, msg); err != nil {
		s.log.Warn("publish message.created failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	return &SendResult{Message: msg, Conversation: conv, Recipients: recipients}, nil
}

func (s *ChatService) resolve(ctx context.Context, in SendInput) (*domain.Conversation, error) {
	if in.ConversationID != "" {
		return s.conversations.GetForParticipant(ctx, in.ConversationID, in.SenderID)
	}
	if in.RecipientID == "" {
		return nil, fmt.Errorf("conversationId or recipientId required: %w", apperr.ErrValidation)
	}
	return s.conversations.FindOrCreate(ctx, in.SenderID, in.RecipientID)
}

// MarkRead applies read receipts for readerID. Unknown ids and messages in
// conversations the reader is not part of are skipped. When conversationID
// is set only messages of that conversation are considered. One receipt is
// returned per conversation touched, and the reader's counter for each of
// those conversations is reset. ErrNotFound means none of the ids exist.
func (s *ChatService) MarkRead(ctx context.Context, readerID, conversationID string, messageIDs []string) ([]domain.ReadReceipt, error) {
	ids := lo.Uniq(lo.Filter(messageIDs, func(id string, _ int) bool { return strings.TrimSpace(id) != "" }))
	if len(ids) == 0 {
		return nil, fmt.Errorf("messageIds required: %w", apperr.ErrValidation)
	}
	msgs, err := s.messages.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no listed message exists: %w", apperr.ErrNotFound)
	}
	if conversationID != "" {
		msgs = lo.Filter(msgs, func(m *domain.Message, _ int) bool { return m.ConversationID == conversationID })
	}

	groups := lo.GroupBy(msgs, func(m *domain.Message) string { return m.ConversationID })
	order := lo.Uniq(lo.Map(msgs, func(m *domain.Message, _ int) string { return m.ConversationID }))

	receipts := []domain.ReadReceipt{}
	for _, convID := range order {
		group := groups[convID]
		conv, err := s.conversations.GetForParticipant(ctx, convID, readerID)
		if errors.Is(err, apperr.ErrForbidden) || errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return receipts, err
		}
		received := lo.FilterMap(group, func(m *domain.Message, _ int) (string, bool) {
			return m.ID, m.SenderID != readerID
		})
		if len(received) == 0 {
			continue
		}
		at, err := s.messages.MarkRead(ctx, readerID, received)
		if err != nil {
			s.metrics.StorageError("mark_read")
			return receipts, err
		}
		if err := s.unread.Reset(ctx, conv.ID, readerID); err != nil {
			s.metrics.StorageError("reset_unread")
			return receipts, err
		}
		r := domain.ReadReceipt{ConversationID: conv.ID, UserID: readerID, MessageIDs: received, ReadAt: at}
		receipts = append(receipts, r)
		s.metrics.ReceiptApplied()
		if err := s.publisher.MessagesRead(ctx, r); err != nil {
			s.log.Warn("publish messages.read failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return receipts, nil
}

// History returns one page of a conversation the caller participates in.
func (s *ChatService) History(ctx context.Context, userID, conversationID string, page, limit int) ([]*domain.Message, error) {
	if _, err := s.conversations.GetForParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, conversationID, page, limit)
}

func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID)
}

func (s *ChatService) Open(ctx context.Context, userID, participantID string) (*domain.Conversation, error) {
	return s.conversations.FindOrCreate(ctx, userID, participantID)
}

// Authorize reports whether userID may act on the conversation.
func (s *ChatService) Authorize(ctx context.Context, conversationID, userID string) error {
	_, err := s.conversations.GetForParticipant(ctx, conversationID, userID)
	return err
}
