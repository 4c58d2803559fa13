package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             string     `bson:"_id" json:"id"`
	ConversationID string     `bson:"conversation_id" json:"conversationId"`
	SenderID       string     `bson:"sender_id" json:"senderId"`
	Content        string     `bson:"content" json:"content"`
	CreatedAt      time.Time  `bson:"created_at" json:"createdAt"`
	IsRead         bool       `bson:"is_read" json:"isRead"`
	ReadAt         *time.Time `bson:"read_at,omitempty" json:"readAt,omitempty"`
}

func (m *Message) Snapshot() LastMessage {
	return LastMessage{MessageID: m.ID, Content: m.Content, SenderID: m.SenderID, Timestamp: m.CreatedAt}
}

// Less reports whether m sorts before o in conversation order.
func (m *Message) Less(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Sequencer hands out (id, createdAt) pairs that strictly increase in call
// order. Timestamps are truncated to milliseconds to match BSON dates and
// never go backwards; ties are broken by the UUIDv7 id.
type Sequencer struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewSequencer(now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{now: now}
}

func (s *Sequencer) Next() (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Millisecond)
	if t.Before(s.last) {
		t = s.last
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, err
	}
	s.last = t
	return id.String(), t, nil
}

// ReadReceipt records which messages of one conversation a user read.
type ReadReceipt struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}
