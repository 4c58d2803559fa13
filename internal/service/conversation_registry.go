package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
	"github.com/fathima-sithara/conversation-service/internal/repository"
)

// ConversationRegistry guarantees one conversation per unordered pair of
// participants and owns the last-message snapshot.
type ConversationRegistry struct {
	repo    repository.ConversationRepository
	unread  *UnreadTracker
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewConversationRegistry(repo repository.ConversationRepository, unread *UnreadTracker, timeout time.Duration, log *zap.Logger) *ConversationRegistry {
	return &ConversationRegistry{repo: repo, unread: unread, timeout: timeout, log: log, now: time.Now}
}

// FindOrCreate returns the conversation between a and b, creating it when
// missing. A concurrent creator winning the unique pair index is not an
// error: the stored conversation is fetched and returned instead.
func (r *ConversationRegistry) FindOrCreate(ctx context.Context, a, b string) (*domain.Conversation, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, fmt.Errorf("participant id required: %w", apperr.ErrValidation)
	}
	if a == b {
		return nil, fmt.Errorf("cannot open a conversation with yourself: %w", apperr.ErrValidation)
	}
	key := domain.PairKey(a, b)

	c, err := r.byPair(ctx, key)
	if err == nil {
		r.decorate(ctx, c)
		return c, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	c = &domain.Conversation{
		ID:           uuid.NewString(),
		Participants: domain.SortedPair(a, b),
		PairKey:      key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ictx, cancel := withTimeout(ctx, r.timeout)
	err = r.repo.Insert(ictx, c)
	cancel()
	switch {
	case err == nil:
		r.log.Info("conversation created", zap.String("conversation_id", c.ID), zap.Strings("participants", c.Participants))
		return c.WithCounts(nil), nil
	case errors.Is(err, apperr.ErrDuplicate):
		c, err = r.byPair(ctx, key)
		if err != nil {
			return nil, err
		}
		r.decorate(ctx, c)
		return c, nil
	default:
		return nil, err
	}
}

func (r *ConversationRegistry) byPair(ctx context.Context, key string) (*domain.Conversation, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.repo.GetByPairKey(ctx, key)
}

func (r *ConversationRegistry) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id required: %w", apperr.ErrValidation)
	}
	gctx, cancel := withTimeout(ctx, r.timeout)
	c, err := r.repo.GetByID(gctx, id)
	cancel()
	if err != nil {
		return nil, err
	}
	r.decorate(ctx, c)
	return c, nil
}

// GetForParticipant is Get plus a membership check.
func (r *ConversationRegistry) GetForParticipant(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, fmt.Errorf("conversation %s: %w", id, apperr.ErrForbidden)
	}
	return c, nil
}

// ListForUser returns the user's conversations, most recently updated first.
func (r *ConversationRegistry) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	lctx, cancel := withTimeout(ctx, r.timeout)
	list, err := r.repo.ListByParticipant(lctx, userID)
	cancel()
	if err != nil {
		return nil, err
	}
	r.decorate(ctx, list...)
	return list, nil
}

// decorate attaches unread counts. Counter lookups are best effort: a
// conversation without counts still renders with zeros.
func (r *ConversationRegistry) decorate(ctx context.Context, convs ...*domain.Conversation) {
	ids := lo.Map(convs, func(c *domain.Conversation, _ int) string { return c.ID })
	counts, err := r.unread.Counts(ctx, ids...)
	if err != nil {
		r.log.Warn("unread counts unavailable", zap.Error(err))
	}
	for _, c := range convs {
		c.WithCounts(counts[c.ID])
	}
}

// UpdateLastMessage is last-write-wins by snapshot timestamp and safe to
// retry.
func (r *ConversationRegistry) UpdateLastMessage(ctx context.Context, id string, snap domain.LastMessage) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.repo.UpdateLastMessage(ctx, id, snap)
}
