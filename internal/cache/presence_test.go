package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/config"
)

// Set REDIS_TEST_ADDR to run against a real Redis.
func TestPresenceStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	req := require.New(t)
	ctx := context.Background()
	rdb, err := NewClient(ctx, config.RedisConfig{Addr: addr}, 5*time.Second, zap.NewNop())
	req.NoError(err)
	defer rdb.Close()

	s := NewPresenceStore(rdb, "test-"+uuid.NewString()[:8], time.Minute)

	st, err := s.Get(ctx, "u1")
	req.NoError(err)
	req.False(st.Online)

	req.NoError(s.AddConnection(ctx, "u1", "conn-a"))
	req.NoError(s.AddConnection(ctx, "u1", "conn-b"))
	st, err = s.Get(ctx, "u1")
	req.NoError(err)
	req.True(st.Online)

	req.NoError(rdb.Expire(ctx, s.presenceKey("u1"), time.Second).Err())
	req.NoError(s.Refresh(ctx, "u1"))
	ttl, err := rdb.TTL(ctx, s.presenceKey("u1")).Result()
	req.NoError(err)
	req.Greater(ttl, 30*time.Second)

	req.NoError(s.RemoveConnection(ctx, "u1", "conn-a"))
	st, err = s.Get(ctx, "u1")
	req.NoError(err)
	req.True(st.Online)

	req.NoError(s.RemoveConnection(ctx, "u1", "conn-b"))
	st, err = s.Get(ctx, "u1")
	req.NoError(err)
	req.False(st.Online)
	req.False(st.LastSeen.IsZero())
}
