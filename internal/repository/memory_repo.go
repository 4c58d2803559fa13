package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
	"github.com/fathima-sithara/conversation-service/internal/domain"
)

// Latency simulates a slow backend. When set, every call waits for the
// delay or for ctx to end, whichever comes first.
type Latency struct {
	mu    sync.RWMutex
	delay time.Duration
	err   error
}

func (l *Latency) Set(d time.Duration) {
	l.mu.Lock()
	l.delay = d
	l.mu.Unlock()
}

// Fail makes every call return err until cleared with Fail(nil).
func (l *Latency) Fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Latency) wait(ctx context.Context, op string) error {
	l.mu.RLock()
	d, ferr := l.delay, l.err
	l.mu.RUnlock()
	if ferr != nil {
		return fmt.Errorf("%s: %w: %v", op, apperr.ErrPersistence, ferr)
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, apperr.ErrPersistence, err)
	}
	return nil
}

type MemoryConversationRepository struct {
	Latency
	mu     sync.RWMutex
	byID   map[string]*domain.Conversation
	byPair map[string]string
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		byID:   map[string]*domain.Conversation{},
		byPair: map[string]string{},
	}
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	cp.UnreadCount = nil
	return &cp
}

func (r *MemoryConversationRepository) Insert(ctx context.Context, c *domain.Conversation) error {
	if err := r.wait(ctx, "insert conversation"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPair[c.PairKey]; ok {
		return fmt.Errorf("insert conversation: %w", apperr.ErrDuplicate)
	}
	if _, ok := r.byID[c.ID]; ok {
		return fmt.Errorf("insert conversation: %w", apperr.ErrDuplicate)
	}
	r.byID[c.ID] = cloneConversation(c)
	r.byPair[c.PairKey] = c.ID
	return nil
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := r.wait(ctx, "get conversation"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("get conversation: %w", apperr.ErrNotFound)
	}
	return cloneConversation(c), nil
}

func (r *MemoryConversationRepository) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	if err := r.wait(ctx, "get conversation by pair"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[pairKey]
	if !ok {
		return nil, fmt.Errorf("get conversation by pair: %w", apperr.ErrNotFound)
	}
	return cloneConversation(r.byID[id]), nil
}

func (r *MemoryConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	if err := r.wait(ctx, "list conversations"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := []*domain.Conversation{}
	for _, c := range r.byID {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryConversationRepository) UpdateLastMessage(ctx context.Context, id string, snap domain.LastMessage) error {
	if err := r.wait(ctx, "update last message"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, apperr.ErrNotFound)
	}
	if !snap.Supersedes(c.LastMessage) {
		return nil
	}
	c.LastMessage = &snap
	if snap.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = snap.Timestamp
	}
	return nil
}

type MemoryMessageRepository struct {
	Latency
	mu     sync.RWMutex
	byID   map[string]*domain.Message
	byConv map[string][]*domain.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byID:   map[string]*domain.Message{},
		byConv: map[string][]*domain.Message{},
	}
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

func (r *MemoryMessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	if err := r.wait(ctx, "insert message"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[m.ID]; ok {
		return fmt.Errorf("insert message: %w", apperr.ErrDuplicate)
	}
	cp := cloneMessage(m)
	r.byID[m.ID] = cp
	list := append(r.byConv[m.ConversationID], cp)
	// keep (created_at, id) order even if inserts land out of order
	sort.SliceStable(list, func(i, j int) bool { return list[i].Less(list[j]) })
	r.byConv[m.ConversationID] = list
	return nil
}

func (r *MemoryMessageRepository) List(ctx context.Context, conversationID string, skip, limit int64) ([]*domain.Message, error) {
	if err := r.wait(ctx, "find messages"); err != nil {
		return nil, err
	}
	if skip < 0 || limit < 0 {
		return nil, fmt.Errorf("find messages: negative skip or limit: %w", apperr.ErrValidation)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byConv[conversationID]
	out := []*domain.Message{}
	for i := skip; i < int64(len(list)) && int64(len(out)) < limit; i++ {
		out = append(out, cloneMessage(list[i]))
	}
	return out, nil
}

func (r *MemoryMessageRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Message, error) {
	if err := r.wait(ctx, "find messages"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := []*domain.Message{}
	seen := map[string]bool{}
	for _, id := range ids {
		if m, ok := r.byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, cloneMessage(m))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (r *MemoryMessageRepository) MarkRead(ctx context.Context, ids []string, readerID string, at time.Time) error {
	if err := r.wait(ctx, "mark read"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		m, ok := r.byID[id]
		if !ok || m.IsRead || m.SenderID == readerID {
			continue
		}
		t := at
		m.IsRead = true
		m.ReadAt = &t
	}
	return nil
}

type MemoryUnreadRepository struct {
	Latency
	mu     sync.Mutex
	counts map[string]map[string]int
}

func NewMemoryUnreadRepository() *MemoryUnreadRepository {
	return &MemoryUnreadRepository{counts: map[string]map[string]int{}}
}

func (r *MemoryUnreadRepository) Increment(ctx context.Context, conversationID, userID string) error {
	if err := r.wait(ctx, "increment unread"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[conversationID] == nil {
		r.counts[conversationID] = map[string]int{}
	}
	r.counts[conversationID][userID]++
	return nil
}

func (r *MemoryUnreadRepository) Reset(ctx context.Context, conversationID, userID string) error {
	if err := r.wait(ctx, "reset unread"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[conversationID] == nil {
		r.counts[conversationID] = map[string]int{}
	}
	r.counts[conversationID][userID] = 0
	return nil
}

func (r *MemoryUnreadRepository) Counts(ctx context.Context, conversationIDs []string) (map[string]map[string]int, error) {
	if err := r.wait(ctx, "unread counts"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		if src, ok := r.counts[id]; ok {
			cp := make(map[string]int, len(src))
			for k, v := range src {
				cp[k] = v
			}
			out[id] = cp
		}
	}
	return out, nil
}
