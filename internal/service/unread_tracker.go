package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/conversation-service/internal/repository"
)

// UnreadTracker maintains per-participant unread counters. All updates are
// atomic at the storage layer; nothing here reads and rewrites a count.
type UnreadTracker struct {
	repo    repository.UnreadRepository
	timeout time.Duration
}

func NewUnreadTracker(repo repository.UnreadRepository, timeout time.Duration) *UnreadTracker {
	return &UnreadTracker{repo: repo, timeout: timeout}
}

func (u *UnreadTracker) Increment(ctx context.Context, conversationID, recipientID string) error {
	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()
	return u.repo.Increment(ctx, conversationID, recipientID)
}

func (u *UnreadTracker) Reset(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()
	return u.repo.Reset(ctx, conversationID, userID)
}

func (u *UnreadTracker) Counts(ctx context.Context, conversationIDs ...string) (map[string]map[string]int, error) {
	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()
	return u.repo.Counts(ctx, conversationIDs)
}
