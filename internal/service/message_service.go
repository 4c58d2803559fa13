package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type appendRequest struct {
	ConversationID string `validate:"required"`
	SenderID       string `validate:"required"`
	Content        string `validate:"required"`
}

// MessageService is the append-only message log of every conversation.
type MessageService struct {
	repo     repository.MessageRepository
	seq      *domain.Sequencer
	validate *validator.Validate
	maxLen   int
	timeout  time.Duration
	now      func() time.Time
}

func NewMessageService(repo repository.MessageRepository, seq *domain.Sequencer, maxLen int, timeout time.Duration) *MessageService {
	if seq == nil {
		seq = domain.NewSequencer(nil)
	}
	return &MessageService{
		repo:     repo,
		seq:      seq,
		validate: validator.New(),
		maxLen:   maxLen,
		timeout:  timeout,
		now:      time.Now,
	}
}

// ValidateContent rejects empty, whitespace-only and oversized content.
func (s *MessageService) ValidateContent(content string) error {
	if err := s.validate.Var(strings.TrimSpace(content), "required"); err != nil {
		return fmt.Errorf("content must not be empty: %w", apperr.ErrValidation)
	}
	if s.maxLen > 0 {
		if err := s.validate.Var(content, fmt.Sprintf("max=%d", s.maxLen)); err != nil {
			return fmt.Errorf("content longer than %d characters: %w", s.maxLen, apperr.ErrValidation)
		}
	}
	return nil
}

// Append stores a new message. Ids and timestamps come from one sequencer
// so (created_at, id) strictly increases in append order.
func (s *MessageService) Append(ctx context.Context, conversationID, senderID, content string) (*domain.Message, error) {
	if err := s.validate.Struct(appendRequest{ConversationID: conversationID, SenderID: senderID, Content: content}); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if err := s.ValidateContent(content); err != nil {
		return nil, err
	}
	id, at, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: message id: %v", apperr.ErrPersistence, err)
	}
	m := &domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MaxPage bounds the page number so the offset always fits in an int64.
const MaxPage = math.MaxInt32

// Page normalizes 1-based page and page size values.
func Page(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// List returns one page of a conversation, oldest first.
func (s *MessageService) List(ctx context.Context, conversationID string, page, limit int) ([]*domain.Message, error) {
	page, limit = Page(page, limit)
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.List(ctx, conversationID, int64(page-1)*int64(limit), int64(limit))
}

func (s *MessageService) GetByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.GetByIDs(ctx, ids)
}

// MarkRead flips the given messages to read for readerID. Messages the
// reader sent are left alone; already-read messages keep their read time.
func (s *MessageService) MarkRead(ctx context.Context, readerID string, ids []string) (time.Time, error) {
	at := s.now().UTC().Truncate(time.Millisecond)
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return at, s.repo.MarkRead(ctx, ids, readerID, at)
}
