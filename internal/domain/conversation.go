package domain

import (
	"sort"
	"strings"
	"time"
)

// LastMessage is the denormalized snapshot of the newest message in a
// conversation.
type LastMessage struct {
	MessageID string    `bson:"message_id" json:"messageId,omitempty"`
	Content   string    `bson:"content" json:"content"`
	SenderID  string    `bson:"sender_id" json:"sender"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Supersedes reports whether l should replace prev. Snapshots are ordered
// like messages, by timestamp and then id.
func (l LastMessage) Supersedes(prev *LastMessage) bool {
	if prev == nil {
		return true
	}
	if !l.Timestamp.Equal(prev.Timestamp) {
		return l.Timestamp.After(prev.Timestamp)
	}
	return l.MessageID >= prev.MessageID
}

// Conversation is a thread shared by exactly two participants. Participants
// are stored sorted so that the pair key is canonical.
type Conversation struct {
	ID           string       `bson:"_id" json:"id"`
	Participants []string     `bson:"participants" json:"participants"`
	PairKey      string       `bson:"pair_key" json:"-"`
	LastMessage  *LastMessage `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	CreatedAt    time.Time    `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updatedAt"`

	// filled from the unread counters, never persisted on the document
	UnreadCount map[string]int `bson:"-" json:"unreadCount"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipients returns every participant except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// WithCounts attaches unread counters, defaulting every participant to zero.
func (c *Conversation) WithCounts(counts map[string]int) *Conversation {
	c.UnreadCount = make(map[string]int, len(c.Participants))
	for _, p := range c.Participants {
		c.UnreadCount[p] = counts[p]
	}
	return c
}

// SortedPair returns the two ids in canonical order.
func SortedPair(a, b string) []string {
	p := []string{a, b}
	sort.Strings(p)
	return p
}

// PairKey is the unique key of the unordered pair {a, b}.
func PairKey(a, b string) string {
	return strings.Join(SortedPair(a, b), ":")
}
