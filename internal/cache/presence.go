package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceStore keeps online status in Redis so other services can see it.
// Keys:
//   - <prefix>:conn:<userID>      set of live connection ids
//   - <prefix>:presence:<userID>  json {status, lastSeen}
type PresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type Status struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type presenceDoc struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen"`
}

func NewPresenceStore(r *redis.Client, prefix string, ttl time.Duration) *PresenceStore {
	return &PresenceStore{client: r, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *PresenceStore) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", s.prefix, userID)
}

func (s *PresenceStore) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *PresenceStore) setStatus(ctx context.Context, pipe redis.Pipeliner, userID, status string, ttl time.Duration) error {
	b, err := json.Marshal(presenceDoc{Status: status, LastSeen: s.now().Unix()})
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.presenceKey(userID), b, ttl)
	return nil
}

// AddConnection records a live connection and marks the user online.
func (s *PresenceStore) AddConnection(ctx context.Context, userID, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.connKey(userID), connID)
		pipe.Expire(ctx, s.connKey(userID), s.ttl)
		return s.setStatus(ctx, pipe, userID, "online", s.ttl)
	})
	return err
}

// Refresh extends the TTL of a connected user's keys. Called on every
// keepalive so long-lived connections stay online.
func (s *PresenceStore) Refresh(ctx context.Context, userID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, s.connKey(userID), s.ttl)
		pipe.Expire(ctx, s.presenceKey(userID), s.ttl)
		return nil
	})
	return err
}

// RemoveConnection forgets connID and marks the user offline once no
// connection is left.
func (s *PresenceStore) RemoveConnection(ctx context.Context, userID, connID string) error {
	if err := s.client.SRem(ctx, s.connKey(userID), connID).Err(); err != nil {
		return err
	}
	left, err := s.client.SCard(ctx, s.connKey(userID)).Result()
	if err != nil {
		return err
	}
	if left > 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.setStatus(ctx, pipe, userID, "offline", 0)
	})
	return err
}

func (s *PresenceStore) Get(ctx context.Context, userID string) (Status, error) {
	out := Status{UserID: userID}
	b, err := s.client.Get(ctx, s.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	var doc presenceDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return out, err
	}
	out.Online = doc.Status == "online"
	if doc.LastSeen > 0 {
		out.LastSeen = time.Unix(doc.LastSeen, 0).UTC()
	}
	return out, nil
}
