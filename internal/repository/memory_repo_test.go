package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
)

func newConversation(id, a, b string, at time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:           id,
		Participants: domain.SortedPair(a, b),
		PairKey:      domain.PairKey(a, b),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestMemoryConversations_DuplicatePair(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryConversationRepository()
	now := time.Now().UTC()

	req.NoError(r.Insert(ctx, newConversation("c1", "u1", "u2", now)))
	err := r.Insert(ctx, newConversation("c2", "u2", "u1", now))
	req.True(errors.Is(err, apperr.ErrDuplicate))

	got, err := r.GetByPairKey(ctx, domain.PairKey("u2", "u1"))
	req.NoError(err)
	req.Equal("c1", got.ID)

	_, err = r.GetByID(ctx, "missing")
	req.True(errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryConversations_UpdateLastMessageLastWriteWins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryConversationRepository()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	req.NoError(r.Insert(ctx, newConversation("c1", "u1", "u2", t0)))

	newer := domain.LastMessage{Content: "second", SenderID: "u2", Timestamp: t0.Add(2 * time.Second)}
	older := domain.LastMessage{Content: "first", SenderID: "u1", Timestamp: t0.Add(time.Second)}
	req.NoError(r.UpdateLastMessage(ctx, "c1", newer))
	req.NoError(r.UpdateLastMessage(ctx, "c1", older))
	// idempotent retry
	req.NoError(r.UpdateLastMessage(ctx, "c1", newer))

	got, err := r.GetByID(ctx, "c1")
	req.NoError(err)
	req.Equal("second", got.LastMessage.Content)
	req.Equal(newer.Timestamp, got.UpdatedAt)

	err = r.UpdateLastMessage(ctx, "nope", newer)
	req.True(errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryConversations_ListNewestFirst(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryConversationRepository()
	t0 := time.Now().UTC()
	req.NoError(r.Insert(ctx, newConversation("old", "u1", "u2", t0)))
	req.NoError(r.Insert(ctx, newConversation("new", "u1", "u3", t0.Add(time.Minute))))
	req.NoError(r.Insert(ctx, newConversation("other", "u4", "u5", t0)))

	list, err := r.ListByParticipant(ctx, "u1")
	req.NoError(err)
	req.Len(list, 2)
	req.Equal("new", list[0].ID)
	req.Equal("old", list[1].ID)
}

func TestMemoryMessages_OrderAndPaging(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryMessageRepository()
	seq := domain.NewSequencer(nil)

	var ids []string
	for i := 0; i < 7; i++ {
		id, at, err := seq.Next()
		req.NoError(err)
		ids = append(ids, id)
		req.NoError(r.Insert(ctx, &domain.Message{ID: id, ConversationID: "c1", SenderID: "u1", Content: fmt.Sprint(i), CreatedAt: at}))
	}

	var got []string
	for skip := int64(0); ; skip += 3 {
		page, err := r.List(ctx, "c1", skip, 3)
		req.NoError(err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			got = append(got, m.ID)
		}
	}
	req.Equal(ids, got)

	_, err := r.List(ctx, "c1", -1, 3)
	req.ErrorIs(err, apperr.ErrValidation)
}

func TestMemoryMessages_MarkReadSkipsOwnMessages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryMessageRepository()
	now := time.Now().UTC()
	req.NoError(r.Insert(ctx, &domain.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", CreatedAt: now}))
	req.NoError(r.Insert(ctx, &domain.Message{ID: "m2", ConversationID: "c1", SenderID: "u2", CreatedAt: now}))

	req.NoError(r.MarkRead(ctx, []string{"m1", "m2", "ghost"}, "u2", now))
	msgs, err := r.GetByIDs(ctx, []string{"m1", "m2"})
	req.NoError(err)
	req.Len(msgs, 2)
	for _, m := range msgs {
		if m.ID == "m1" {
			req.True(m.IsRead)
			req.NotNil(m.ReadAt)
		} else {
			req.False(m.IsRead)
		}
	}
}

func TestMemoryUnread_ConcurrentIncrement(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewMemoryUnreadRepository()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Increment(ctx, "c1", "u2")
		}()
	}
	wg.Wait()
	req.NoError(r.Increment(ctx, "c1", "u1"))

	counts, err := r.Counts(ctx, []string{"c1", "c2"})
	req.NoError(err)
	req.Equal(50, counts["c1"]["u2"])
	req.Equal(1, counts["c1"]["u1"])
	req.NotContains(counts, "c2")

	req.NoError(r.Reset(ctx, "c1", "u2"))
	counts, err = r.Counts(ctx, []string{"c1"})
	req.NoError(err)
	req.Equal(0, counts["c1"]["u2"])
	req.Equal(1, counts["c1"]["u1"])
}

func TestLatency_TimeoutIsPersistenceError(t *testing.T) {
	req := require.New(t)
	r := NewMemoryMessageRepository()
	r.Set(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Insert(ctx, &domain.Message{ID: "m1", ConversationID: "c1"})
	req.True(errors.Is(err, apperr.ErrPersistence))

	r.Set(0)
	r.Fail(errors.New("connection refused"))
	_, err = r.List(context.Background(), "c1", 0, 10)
	req.True(errors.Is(err, apperr.ErrPersistence))
}
